package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/store"
)

func allEnabled() moderation.Eligibility {
	return moderation.Eligibility{
		AutoModerationEnabled: true,
		CredentialConfigured:  true,
		ModerateArticles:      true,
		ModeratePages:         true,
		ModerateProducts:      true,
	}
}

func newGuard(mem *store.Memory, elig moderation.Eligibility) *Guard {
	return New(mem.Decisions(), func() moderation.Eligibility { return elig }, nil, logging.NewNopLogger())
}

func TestFilterNew_HoldsEligibleComments(t *testing.T) {
	mem := store.NewMemory()
	g := newGuard(mem, allEnabled())

	for _, proposed := range []moderation.Status{
		moderation.StatusApproved,
		moderation.StatusPending,
		moderation.StatusSpam,
	} {
		c := &moderation.Comment{Content: "hello", DocumentType: moderation.ContentTypeArticle}
		got := g.FilterNew(c, proposed)
		assert.Equal(t, moderation.StatusPending, got, "proposed %s", proposed)
	}
}

func TestFilterNew_PassesThroughWhenIneligible(t *testing.T) {
	tests := []struct {
		name string
		elig moderation.Eligibility
		ct   moderation.ContentType
	}{
		{
			name: "auto-moderation disabled",
			elig: moderation.Eligibility{CredentialConfigured: true, ModerateArticles: true},
			ct:   moderation.ContentTypeArticle,
		},
		{
			name: "no credential",
			elig: moderation.Eligibility{AutoModerationEnabled: true, ModerateArticles: true},
			ct:   moderation.ContentTypeArticle,
		},
		{
			name: "content type toggled off",
			elig: moderation.Eligibility{AutoModerationEnabled: true, CredentialConfigured: true, ModerateArticles: true},
			ct:   moderation.ContentTypePage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGuard(store.NewMemory(), tt.elig)
			c := &moderation.Comment{Content: "hello", DocumentType: tt.ct}
			got := g.FilterNew(c, moderation.StatusApproved)
			assert.Equal(t, moderation.StatusApproved, got)
		})
	}
}

func TestFilterNew_SetsSpamHint(t *testing.T) {
	g := newGuard(store.NewMemory(), allEnabled())

	withLink := &moderation.Comment{Content: "see https://deals.example.test", DocumentType: moderation.ContentTypeArticle}
	g.FilterNew(withLink, moderation.StatusPending)
	assert.True(t, withLink.SpamHint)

	plain := &moderation.Comment{Content: "great article, thanks", DocumentType: moderation.ContentTypeArticle}
	g.FilterNew(plain, moderation.StatusPending)
	assert.False(t, plain.SpamHint)
}

// seedDecision stores a decision for a fresh comment and returns the comment.
func seedDecision(t *testing.T, mem *store.Memory, outcome moderation.Outcome) *moderation.Comment {
	t.Helper()
	c, err := mem.Create(context.Background(), &moderation.Comment{
		Content:      "questionable",
		DocumentType: moderation.ContentTypeArticle,
		Status:       moderation.StatusPending,
	})
	require.NoError(t, err)

	created, err := mem.Decisions().Create(context.Background(), &moderation.Decision{
		CommentID:        c.ID,
		Outcome:          outcome,
		SuggestedOutcome: outcome,
		Confidence:       0.9,
		Model:            "gpt-4o",
	})
	require.NoError(t, err)
	require.True(t, created)
	return c
}

func TestObserveTransition_MarksHumanOverride(t *testing.T) {
	mem := store.NewMemory()
	g := newGuard(mem, allEnabled())
	g.now = func() time.Time { return time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC) }
	c := seedDecision(t, mem, moderation.OutcomeSpam)

	g.ObserveTransition(context.Background(), c.ID, moderation.StatusSpam, moderation.StatusApproved, moderation.ActorHuman, "alex")

	d, err := mem.Decisions().GetByComment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, d.Overridden)
	assert.Equal(t, "alex", d.OverriddenBy)
	require.NotNil(t, d.OverriddenAt)
	assert.Equal(t, 2026, d.OverriddenAt.Year())
}

func TestObserveTransition_SecondChangeIsNoOp(t *testing.T) {
	mem := store.NewMemory()
	g := newGuard(mem, allEnabled())
	c := seedDecision(t, mem, moderation.OutcomeSpam)

	g.ObserveTransition(context.Background(), c.ID, moderation.StatusSpam, moderation.StatusApproved, moderation.ActorHuman, "alex")
	g.ObserveTransition(context.Background(), c.ID, moderation.StatusApproved, moderation.StatusTrashed, moderation.ActorHuman, "blair")

	d, err := mem.Decisions().GetByComment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, d.Overridden)
	assert.Equal(t, "alex", d.OverriddenBy, "first override identity must stand")
}

func TestObserveTransition_Skips(t *testing.T) {
	mem := store.NewMemory()
	g := newGuard(mem, allEnabled())
	c := seedDecision(t, mem, moderation.OutcomeApprove)

	tests := []struct {
		name   string
		old    moderation.Status
		new    moderation.Status
		actor  moderation.Actor
		target int64
	}{
		{"same status", moderation.StatusApproved, moderation.StatusApproved, moderation.ActorHuman, c.ID},
		{"system actor", moderation.StatusPending, moderation.StatusApproved, moderation.ActorSystem, c.ID},
		{"transition to pending", moderation.StatusApproved, moderation.StatusPending, moderation.ActorHuman, c.ID},
		{"no decision exists", moderation.StatusPending, moderation.StatusApproved, moderation.ActorHuman, 9999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.ObserveTransition(context.Background(), tt.target, tt.old, tt.new, tt.actor, "alex")

			d, err := mem.Decisions().GetByComment(context.Background(), c.ID)
			require.NoError(t, err)
			assert.False(t, d.Overridden)
		})
	}
}

func TestObserveTransition_WiredThroughStoreSetStatus(t *testing.T) {
	mem := store.NewMemory()
	g := newGuard(mem, allEnabled())
	mem.SetTransitionObserver(g)
	c := seedDecision(t, mem, moderation.OutcomeSpam)

	// System applying its own decision is not an override.
	require.NoError(t, mem.SetStatus(context.Background(), c.ID, moderation.StatusSpam, moderation.ActorSystem, ""))
	d, err := mem.Decisions().GetByComment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, d.Overridden)

	// A human reversing it is.
	require.NoError(t, mem.SetStatus(context.Background(), c.ID, moderation.StatusApproved, moderation.ActorHuman, "casey"))
	d, err = mem.Decisions().GetByComment(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, d.Overridden)
	assert.Equal(t, "casey", d.OverriddenBy)
}
