package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/aiclient"
	"github.com/aegis-moderation/aegis/pkg/moderation/store"
)

func newFixture(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := New(mem, mem.Decisions(), nil, logging.NewNopLogger())
	return engine, mem
}

func seedPending(t *testing.T, mem *store.Memory) *moderation.Comment {
	t.Helper()
	c, err := mem.Create(context.Background(), &moderation.Comment{
		AuthorName:   "sam",
		Content:      "nice article",
		DocumentID:   1,
		DocumentType: moderation.ContentTypeArticle,
		Status:       moderation.StatusPending,
	})
	require.NoError(t, err)
	return c
}

func result(outcome moderation.Outcome, confidence float64) *aiclient.Result {
	return &aiclient.Result{
		Outcome:        outcome,
		Confidence:     confidence,
		Reasoning:      "test reasoning",
		Model:          "gpt-4o",
		ProcessingTime: 120 * time.Millisecond,
	}
}

func TestEvaluate_AppliesAboveThreshold(t *testing.T) {
	tests := []struct {
		outcome    moderation.Outcome
		wantStatus moderation.Status
	}{
		{moderation.OutcomeApprove, moderation.StatusApproved},
		{moderation.OutcomeSpam, moderation.StatusSpam},
		{moderation.OutcomeReject, moderation.StatusTrashed},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			engine, mem := newFixture(t)
			comment := seedPending(t, mem)

			decision, err := engine.Evaluate(context.Background(), comment, result(tt.outcome, 0.9), nil, 0.7)
			require.NoError(t, err)
			require.NotNil(t, decision)

			assert.Equal(t, tt.outcome, decision.Outcome)
			assert.Equal(t, tt.outcome, decision.SuggestedOutcome)
			assert.Equal(t, 0.9, decision.Confidence)
			assert.False(t, decision.Overridden)

			updated, err := mem.Get(context.Background(), comment.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, updated.Status)
		})
	}
}

func TestEvaluate_BelowThresholdParksForReview(t *testing.T) {
	engine, mem := newFixture(t)
	comment := seedPending(t, mem)

	decision, err := engine.Evaluate(context.Background(), comment, result(moderation.OutcomeSpam, 0.55), nil, 0.7)
	require.NoError(t, err)
	require.NotNil(t, decision)

	assert.Equal(t, moderation.OutcomePendingReview, decision.Outcome)
	assert.Equal(t, moderation.OutcomeSpam, decision.SuggestedOutcome)
	assert.Equal(t, 0.55, decision.Confidence)
	assert.True(t, decision.NeedsReview())

	// Status untouched.
	updated, err := mem.Get(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusPending, updated.Status)

	// And the decision is durable.
	stored, err := mem.Decisions().GetByComment(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomePendingReview, stored.Outcome)
	assert.Equal(t, moderation.OutcomeSpam, stored.SuggestedOutcome)
}

func TestEvaluate_ExactlyAtThresholdApplies(t *testing.T) {
	engine, mem := newFixture(t)
	comment := seedPending(t, mem)

	decision, err := engine.Evaluate(context.Background(), comment, result(moderation.OutcomeApprove, 0.7), nil, 0.7)
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, moderation.OutcomeApprove, decision.Outcome)

	updated, err := mem.Get(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusApproved, updated.Status)
}

func TestEvaluate_FailureLeavesCommentPending(t *testing.T) {
	engine, mem := newFixture(t)
	comment := seedPending(t, mem)

	classifyErr := agerrors.NewClassificationError(agerrors.ErrConnectionFailed, "gpt-4o", "connection refused")
	decision, err := engine.Evaluate(context.Background(), comment, nil, classifyErr, 0.7)
	require.NoError(t, err)
	assert.Nil(t, decision)

	updated, err := mem.Get(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusPending, updated.Status)

	_, err = mem.Decisions().GetByComment(context.Background(), comment.ID)
	assert.ErrorIs(t, err, agerrors.ErrNotFound)
}

func TestEvaluate_SecondEvaluationIsNoOp(t *testing.T) {
	engine, mem := newFixture(t)
	comment := seedPending(t, mem)

	first, err := engine.Evaluate(context.Background(), comment, result(moderation.OutcomeApprove, 0.9), nil, 0.7)
	require.NoError(t, err)
	require.NotNil(t, first)

	// A racing trigger evaluates the same comment with a different result.
	second, err := engine.Evaluate(context.Background(), comment, result(moderation.OutcomeReject, 0.99), nil, 0.7)
	require.NoError(t, err)
	assert.Nil(t, second)

	// Original decision and status stand.
	stored, err := mem.Decisions().GetByComment(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomeApprove, stored.Outcome)

	updated, err := mem.Get(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.StatusApproved, updated.Status)
}

func TestEvaluate_PendingReviewNeverReapplied(t *testing.T) {
	engine, mem := newFixture(t)
	comment := seedPending(t, mem)

	_, err := engine.Evaluate(context.Background(), comment, result(moderation.OutcomeSpam, 0.4), nil, 0.7)
	require.NoError(t, err)

	// A later attempt with high confidence must not replace the parked
	// decision.
	second, err := engine.Evaluate(context.Background(), comment, result(moderation.OutcomeSpam, 0.99), nil, 0.7)
	require.NoError(t, err)
	assert.Nil(t, second)

	stored, err := mem.Decisions().GetByComment(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Equal(t, moderation.OutcomePendingReview, stored.Outcome)
}
