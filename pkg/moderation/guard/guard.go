// Package guard intercepts comment lifecycle events: it forces eligible new
// comments into the held state before they become visible, and it detects
// human overrides of recorded decisions.
package guard

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/observability"
)

// Guard implements the create filter and transition observer the comment
// store invokes on its write paths.
type Guard struct {
	decisions   moderation.DecisionStore
	eligibility moderation.EligibilityProvider
	metrics     *observability.Metrics
	log         logging.Logger
	now         func() time.Time
}

// New creates a guard. metrics may be nil.
func New(decisions moderation.DecisionStore, eligibility moderation.EligibilityProvider, metrics *observability.Metrics, log logging.Logger) *Guard {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Guard{
		decisions:   decisions,
		eligibility: eligibility,
		metrics:     metrics,
		log:         log.With(logging.F("component", "guard")),
		now:         time.Now,
	}
}

// FilterNew decides the initial status for a new comment. Eligible comments
// are held regardless of the proposed status so nothing becomes visible
// before a decision. It must stay fast: no network calls, no store reads.
func (g *Guard) FilterNew(c *moderation.Comment, proposed moderation.Status) moderation.Status {
	c.SpamHint = spamHint(c.Content)

	if !g.eligibility().Eligible(c.DocumentType) {
		return proposed
	}

	g.metrics.RecordHold()
	if proposed != moderation.StatusPending {
		g.log.Debug("holding new comment",
			logging.F("proposed_status", string(proposed)),
			logging.F("content_type", string(c.DocumentType)))
	}
	return moderation.StatusPending
}

// ObserveTransition inspects a completed status transition and marks the
// comment's decision overridden when a human moved the comment somewhere
// after the pipeline had already judged it. System-applied transitions are
// identified by their actor tag, not inferred from ambient state.
func (g *Guard) ObserveTransition(ctx context.Context, commentID int64, oldStatus, newStatus moderation.Status, actor moderation.Actor, actorName string) {
	if oldStatus == newStatus {
		return
	}
	if actor == moderation.ActorSystem {
		return
	}
	if !newStatus.IsResolved() {
		return
	}

	decision, err := g.decisions.GetByComment(ctx, commentID)
	if err != nil {
		if !errors.Is(err, agerrors.ErrNotFound) {
			g.log.Error("override check failed",
				logging.CommentID(commentID),
				logging.Err(err))
		}
		return
	}
	if decision.Overridden {
		return
	}

	if actorName == "" {
		actorName = "unknown"
	}
	marked, err := g.decisions.MarkOverridden(ctx, commentID, actorName, g.now())
	if err != nil {
		g.log.Error("marking override failed",
			logging.CommentID(commentID),
			logging.Err(err))
		return
	}
	if !marked {
		return
	}

	g.metrics.RecordOverride()
	g.log.Warn("decision overridden by operator",
		logging.CommentID(commentID),
		logging.F("ai_outcome", string(decision.Outcome)),
		logging.F("ai_suggested", string(decision.SuggestedOutcome)),
		logging.F("ai_confidence", decision.Confidence),
		logging.F("old_status", string(oldStatus)),
		logging.F("new_status", string(newStatus)),
		logging.F("overridden_by", actorName))
}

var (
	hintLinkPattern = regexp.MustCompile(`(?i)https?://|\bwww\.`)
	hintPhrases     = []string{"check out my", "click here", "buy now", "limited time", "discount code"}
)

// spamHint is a cheap creation-time signal for UI hinting only. It never
// feeds into the classification decision.
func spamHint(content string) bool {
	lower := strings.ToLower(content)
	if hintLinkPattern.MatchString(lower) {
		return true
	}
	for _, p := range hintPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var (
	_ moderation.CreateFilter       = (*Guard)(nil)
	_ moderation.TransitionObserver = (*Guard)(nil)
)
