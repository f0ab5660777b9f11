package moderation

import "time"

// Outcome is the decision vocabulary the classification model may return,
// plus the pending_review outcome the policy engine records for low-confidence
// results.
type Outcome string

const (
	OutcomeApprove       Outcome = "approve"
	OutcomeReject        Outcome = "reject"
	OutcomeSpam          Outcome = "spam"
	OutcomePendingReview Outcome = "pending_review"
)

// IsModelOutcome reports whether o is one of the outcomes the model is
// allowed to return. pending_review is policy-engine-only.
func (o Outcome) IsModelOutcome() bool {
	switch o {
	case OutcomeApprove, OutcomeReject, OutcomeSpam:
		return true
	}
	return false
}

// StatusFor maps an applied outcome to the comment status it produces.
// pending_review maps to nothing: the comment stays held.
func (o Outcome) StatusFor() (Status, bool) {
	switch o {
	case OutcomeApprove:
		return StatusApproved, true
	case OutcomeSpam:
		return StatusSpam, true
	case OutcomeReject:
		return StatusTrashed, true
	}
	return "", false
}

// Decision is the durable record of one classification outcome for one
// comment. At most one non-superseded Decision exists per comment; once it
// exists the pipeline never reclassifies that comment automatically.
type Decision struct {
	ID        int64
	CommentID int64

	// Outcome is what the policy engine decided: the model's outcome when
	// confidence cleared the threshold, or pending_review otherwise.
	Outcome Outcome

	// SuggestedOutcome preserves the model's verdict when Outcome is
	// pending_review, so the human reviewer sees what the model thought.
	// Equal to Outcome for applied decisions.
	SuggestedOutcome Outcome

	Confidence float64
	Reasoning  string
	Model      string

	// ParameterNotes records silent request adjustments (e.g. a fixed-
	// temperature substitution) for observability.
	ParameterNotes string

	ProcessingTime time.Duration
	CreatedAt      time.Time

	Overridden   bool
	OverriddenBy string
	OverriddenAt *time.Time
}

// NeedsReview reports whether the decision awaits a human verdict.
func (d *Decision) NeedsReview() bool {
	return d.Outcome == OutcomePendingReview
}
