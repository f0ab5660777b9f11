// Package policy decides what happens to a comment after a classification
// attempt: apply the outcome, park it for human review, or leave it pending
// for a later retry.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/aiclient"
	"github.com/aegis-moderation/aegis/pkg/moderation/observability"
)

// Engine applies classification results to comments. It creates at most one
// Decision per comment and never lets a failure escape as anything but a
// logged, retryable no-op.
type Engine struct {
	comments  moderation.CommentStore
	decisions moderation.DecisionStore
	metrics   *observability.Metrics
	log       logging.Logger
}

// New creates a policy engine. metrics may be nil.
func New(comments moderation.CommentStore, decisions moderation.DecisionStore, metrics *observability.Metrics, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Engine{
		comments:  comments,
		decisions: decisions,
		metrics:   metrics,
		log:       log.With(logging.F("component", "policy")),
	}
}

// Evaluate consumes one classification attempt for a comment. Exactly one of
// result and classifyErr is set.
//
// A failed classification is logged with full diagnostics and changes
// nothing: the comment stays pending and retryable. A successful one is
// persisted as a Decision and, when confidence clears the threshold, applied
// to the comment's status. Below-threshold results are stored as
// pending_review with the model's suggestion preserved; the comment keeps its
// current status until a human resolves it.
//
// The returned Decision is nil when classification failed or when a decision
// already existed (the idempotent-skip path).
func (e *Engine) Evaluate(ctx context.Context, comment *moderation.Comment, result *aiclient.Result, classifyErr error, threshold float64) (*moderation.Decision, error) {
	if classifyErr != nil {
		e.logFailure(comment.ID, classifyErr)
		return nil, nil
	}
	if result == nil {
		return nil, fmt.Errorf("evaluate comment %d: no result and no error", comment.ID)
	}

	decision := &moderation.Decision{
		CommentID:        comment.ID,
		Outcome:          result.Outcome,
		SuggestedOutcome: result.Outcome,
		Confidence:       result.Confidence,
		Reasoning:        result.Reasoning,
		Model:            result.Model,
		ParameterNotes:   result.ParameterNotes,
		ProcessingTime:   result.ProcessingTime,
		CreatedAt:        time.Now(),
	}

	applied := result.Confidence >= threshold
	if !applied {
		decision.Outcome = moderation.OutcomePendingReview
	}

	created, err := e.decisions.Create(ctx, decision)
	if err != nil {
		return nil, fmt.Errorf("persist decision for comment %d: %w", comment.ID, err)
	}
	if !created {
		// Another trigger won the race. Harmless: one extra API call, no
		// state change.
		e.log.Debug("decision already exists, skipping",
			logging.CommentID(comment.ID))
		return nil, nil
	}

	e.metrics.RecordClassification(string(decision.Outcome), result.Model, result.Confidence, result.ProcessingTime, result.UsedFallback)

	if !applied {
		e.log.Info("decision below threshold, held for review",
			logging.CommentID(comment.ID),
			logging.F("suggested_outcome", string(result.Outcome)),
			logging.F("confidence", result.Confidence),
			logging.F("threshold", threshold))
		return decision, nil
	}

	status, ok := decision.Outcome.StatusFor()
	if !ok {
		return decision, fmt.Errorf("outcome %q has no status mapping", decision.Outcome)
	}
	if err := e.comments.SetStatus(ctx, comment.ID, status, moderation.ActorSystem, ""); err != nil {
		// The decision is durable; the status write is what failed. Surface
		// it so the operator can reconcile, but do not undo the decision.
		e.log.Error("decision stored but status update failed",
			logging.CommentID(comment.ID),
			logging.F("status", string(status)),
			logging.Err(err))
		return decision, fmt.Errorf("apply status %s to comment %d: %w", status, comment.ID, err)
	}

	e.log.Info("decision applied",
		logging.CommentID(comment.ID),
		logging.F("outcome", string(decision.Outcome)),
		logging.F("confidence", result.Confidence),
		logging.F("model", result.Model),
		logging.F("duration", result.ProcessingTime))

	return decision, nil
}

// logFailure writes the failure to the audit log with enough context to
// diagnose it without re-running the classification.
func (e *Engine) logFailure(commentID int64, err error) {
	code := agerrors.CodeOf(err)
	fields := []logging.Field{
		logging.CommentID(commentID),
		logging.F("code", string(code)),
		logging.F("failure", agerrors.GetDescription(code)),
		logging.F("retryable", agerrors.IsRetryable(code)),
		logging.F("suggested_action", agerrors.GetSuggestedAction(code)),
		logging.Err(err),
	}

	var ce *agerrors.ClassificationError
	if errors.As(err, &ce) {
		if ce.Model != "" {
			fields = append(fields, logging.F("model", ce.Model))
		}
		if ce.RawText != "" {
			fields = append(fields, logging.F("raw_output", ce.RawText))
		}
		if ce.Duration > 0 {
			fields = append(fields, logging.F("duration", ce.Duration))
		}
		e.metrics.RecordFailure(string(ce.Code), ce.Model)
	} else {
		e.metrics.RecordFailure(string(code), "")
	}

	e.log.Warn("classification failed, comment left pending", fields...)
}
