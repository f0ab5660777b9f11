// Package scheduler decides whether and when comments get moderated. It
// schedules deferred units through a pluggable backend, runs the periodic
// safety-net sweep, and exposes the manual process-now entry point.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/aiclient"
	"github.com/aegis-moderation/aegis/pkg/moderation/observability"
)

// Classifier is the classification client dependency.
type Classifier interface {
	Classify(ctx context.Context, comment *moderation.Comment, documentTitle string) (*aiclient.Result, error)
}

// Evaluator is the policy engine dependency.
type Evaluator interface {
	Evaluate(ctx context.Context, comment *moderation.Comment, result *aiclient.Result, classifyErr error, threshold float64) (*moderation.Decision, error)
}

// Settings is the scheduler's view of live configuration, read through a
// provider so reloads apply without reconstruction.
type Settings struct {
	Eligibility         moderation.Eligibility
	ConfidenceThreshold float64

	ScheduleDelay time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	SweepPause    time.Duration
	KickCooldown  time.Duration
}

// SettingsProvider supplies the current settings snapshot.
type SettingsProvider func() Settings

// Deps holds the scheduler's dependencies.
type Deps struct {
	Comments   moderation.CommentStore
	Decisions  moderation.DecisionStore
	Classifier Classifier
	Evaluator  Evaluator
	Settings   SettingsProvider
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	Logger     logging.Logger

	// BackendFactory builds the deferred-unit backend around the
	// scheduler's process function. Defaults to the in-process timer
	// backend when nil.
	BackendFactory func(ProcessFunc) Backend
}

// Scheduler is the dispatch layer for the moderation pipeline.
type Scheduler struct {
	comments   moderation.CommentStore
	decisions  moderation.DecisionStore
	classifier Classifier
	evaluator  Evaluator
	settings   SettingsProvider
	backend    Backend
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	log        logging.Logger

	kickMu   sync.Mutex
	lastKick time.Time

	cron       *cron.Cron
	sweepEntry cron.EntryID

	sweepMu sync.Mutex
}

// New creates a scheduler.
func New(deps Deps) *Scheduler {
	log := deps.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = observability.NewTracer()
	}

	s := &Scheduler{
		comments:   deps.Comments,
		decisions:  deps.Decisions,
		classifier: deps.Classifier,
		evaluator:  deps.Evaluator,
		settings:   deps.Settings,
		metrics:    deps.Metrics,
		tracer:     tracer,
		log:        log.With(logging.F("component", "scheduler")),
		cron:       cron.New(),
	}

	if deps.BackendFactory != nil {
		s.backend = deps.BackendFactory(s.processDeferred)
	} else {
		s.backend = NewTimerBackend(s.processDeferred)
	}
	return s
}

// Start launches the periodic sweep and the backend's worker, if it has one.
func (s *Scheduler) Start() error {
	settings := s.settings()

	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", settings.SweepInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), settings.SweepInterval)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn("sweep failed", logging.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	s.sweepEntry = entry
	s.cron.Start()

	if starter, ok := s.backend.(interface{ Start() }); ok {
		starter.Start()
	}

	s.log.Info("scheduler started",
		logging.F("sweep_interval", settings.SweepInterval),
		logging.F("sweep_batch", settings.SweepBatch))
	return nil
}

// Stop halts the sweep and the backend. In-flight units finish.
func (s *Scheduler) Stop() error {
	ctx := s.cron.Stop()
	<-ctx.Done()
	return s.backend.Close()
}

// Reschedule replaces the sweep cadence, e.g. after a config reload.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	if s.sweepEntry != 0 {
		s.cron.Remove(s.sweepEntry)
	}
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn("sweep failed", logging.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("rescheduling sweep: %w", err)
	}
	s.sweepEntry = entry
	s.log.Info("sweep rescheduled", logging.F("sweep_interval", interval))
	return nil
}

// Schedule queues deferred moderation for a newly held comment. Ineligible
// comments and comments with an existing decision are skipped silently; a
// backend failure falls back to a direct in-process retry so the comment is
// not left waiting for the next sweep.
func (s *Scheduler) Schedule(ctx context.Context, c *moderation.Comment) error {
	settings := s.settings()

	if c.Status != moderation.StatusPending {
		return nil
	}
	if !settings.Eligibility.Eligible(c.DocumentType) {
		s.log.Debug("comment not eligible for auto-moderation",
			logging.CommentID(c.ID),
			logging.F("content_type", string(c.DocumentType)))
		return nil
	}
	if s.hasDecision(ctx, c.ID) {
		return nil
	}

	notBefore := time.Now().Add(settings.ScheduleDelay)
	scheduled, err := s.backend.Defer(ctx, c.ID, notBefore)
	if err != nil {
		s.log.Warn("deferred scheduling failed, falling back to direct retry",
			logging.CommentID(c.ID),
			logging.Err(err))
		s.directRetry(c.ID, settings.ScheduleDelay)
		return nil
	}
	if !scheduled {
		s.log.Debug("unit already outstanding", logging.CommentID(c.ID))
		return nil
	}

	s.metrics.RecordScheduled(backendName(s.backend))
	s.log.Debug("moderation scheduled",
		logging.CommentID(c.ID),
		logging.F("not_before", notBefore))
	return nil
}

// directRetry processes a comment after a short delay without going through
// the backend. Used when the backend itself failed to accept the unit.
func (s *Scheduler) directRetry(commentID int64, delay time.Duration) {
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.process(ctx, commentID, "fallback")
	})
}

// Kick wakes the sweep early when held comments exist, rate-limited to one
// firing per cooldown window. It is safe to call on every page view; almost
// all calls return immediately without doing anything.
func (s *Scheduler) Kick() bool {
	settings := s.settings()

	s.kickMu.Lock()
	if time.Since(s.lastKick) < settings.KickCooldown {
		s.kickMu.Unlock()
		s.metrics.RecordKick(false)
		return false
	}
	s.kickMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	held, err := s.comments.ListByStatus(ctx, moderation.StatusPending, 1, 0)
	cancel()
	if err != nil || len(held) == 0 {
		s.metrics.RecordKick(false)
		return false
	}

	// Re-check after the store read so concurrent kicks fire at most once.
	s.kickMu.Lock()
	if time.Since(s.lastKick) < settings.KickCooldown {
		s.kickMu.Unlock()
		s.metrics.RecordKick(false)
		return false
	}
	s.lastKick = time.Now()
	s.kickMu.Unlock()

	s.metrics.RecordKick(true)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), settings.SweepInterval)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Warn("kicked sweep failed", logging.Err(err))
		}
	}()
	return true
}

// Summary reports the outcome of a batch run.
type Summary struct {
	Processed     int          `json:"processed"`
	Approved      int          `json:"approved"`
	Rejected      int          `json:"rejected"`
	Spam          int          `json:"spam"`
	PendingReview int          `json:"pending_review"`
	Skipped       int          `json:"skipped"`
	Errors        int          `json:"errors"`
	Items         []ItemResult `json:"items,omitempty"`
}

// ItemResult is the per-comment outcome within a batch.
type ItemResult struct {
	CommentID int64              `json:"comment_id"`
	Outcome   moderation.Outcome `json:"outcome,omitempty"`
	Skipped   bool               `json:"skipped,omitempty"`
	Error     string             `json:"error,omitempty"`

	errorCode string
}

// Sweep processes a bounded batch of held comments lacking a decision. It is
// the safety net for deferred units that never fired. Only one sweep runs at
// a time; overlapping calls return an empty summary.
func (s *Scheduler) Sweep(ctx context.Context) (*Summary, error) {
	if !s.sweepMu.TryLock() {
		return &Summary{}, nil
	}
	defer s.sweepMu.Unlock()

	ctx, span := s.tracer.StartSweepSpan(ctx)
	defer span.End()

	settings := s.settings()
	summary, err := s.processBatch(ctx, "sweep", settings)
	if err != nil {
		return summary, err
	}

	s.metrics.RecordSweep(summary.Processed)
	if summary.Processed > 0 {
		s.log.Info("sweep complete",
			logging.F("processed", summary.Processed),
			logging.F("approved", summary.Approved),
			logging.F("spam", summary.Spam),
			logging.F("rejected", summary.Rejected),
			logging.F("pending_review", summary.PendingReview),
			logging.F("errors", summary.Errors))
	}
	return summary, nil
}

// ProcessNow synchronously processes all currently held comments, bounded by
// the sweep batch size, and returns the per-comment summary. It is the
// operator's recovery path when background dispatch is unreliable.
func (s *Scheduler) ProcessNow(ctx context.Context) (*Summary, error) {
	settings := s.settings()
	return s.processBatch(ctx, "manual", settings)
}

// processBatch runs moderation over held comments, oldest first, with an
// inter-item pause to respect external rate limits.
func (s *Scheduler) processBatch(ctx context.Context, trigger string, settings Settings) (*Summary, error) {
	summary := &Summary{}

	held, err := s.comments.ListByStatus(ctx, moderation.StatusPending, settings.SweepBatch, 0)
	if err != nil {
		return summary, fmt.Errorf("listing held comments: %w", err)
	}
	// Observed backlog at list time, bounded by the batch size.
	s.metrics.SetHeldComments(len(held))

	for i, c := range held {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if i > 0 && settings.SweepPause > 0 {
			select {
			case <-time.After(settings.SweepPause):
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}

		item := s.process(ctx, c.ID, trigger)
		summary.Items = append(summary.Items, item)
		switch {
		case item.Error != "":
			summary.Errors++
		case item.Skipped:
			summary.Skipped++
		default:
			summary.Processed++
			switch item.Outcome {
			case moderation.OutcomeApprove:
				summary.Approved++
			case moderation.OutcomeSpam:
				summary.Spam++
			case moderation.OutcomeReject:
				summary.Rejected++
			case moderation.OutcomePendingReview:
				summary.PendingReview++
			}
		}
	}
	return summary, nil
}

// processDeferred adapts process to the backend's ProcessFunc. Only
// retryable failures propagate, so the queue backend's backoff is spent on
// transient errors and not on configuration problems.
func (s *Scheduler) processDeferred(ctx context.Context, commentID int64) error {
	item := s.process(ctx, commentID, "deferred")
	if item.Error == "" {
		return nil
	}
	if !agerrors.IsRetryable(agerrors.ErrorCode(item.errorCode)) {
		return nil
	}
	return fmt.Errorf("moderate comment %d: %s", commentID, item.Error)
}

// process runs the full moderation unit for one comment: re-check state,
// classify, evaluate. It never panics and never propagates a classification
// failure beyond the returned item.
func (s *Scheduler) process(ctx context.Context, commentID int64, trigger string) ItemResult {
	item := ItemResult{CommentID: commentID}
	settings := s.settings()

	ctx, span := s.tracer.StartModerationSpan(ctx, commentID, trigger)
	defer span.End()

	comment, err := s.comments.Get(ctx, commentID)
	if err != nil {
		item.Skipped = true
		return item
	}
	if comment.Status != moderation.StatusPending {
		item.Skipped = true
		return item
	}
	if !settings.Eligibility.Eligible(comment.DocumentType) {
		item.Skipped = true
		return item
	}
	// Checked immediately before the expensive call: a unit firing after
	// another trigger already decided this comment is a no-op.
	if s.hasDecision(ctx, comment.ID) {
		item.Skipped = true
		return item
	}

	title, err := s.comments.DocumentTitle(ctx, comment.DocumentID)
	if err != nil {
		title = ""
	}

	result, classifyErr := s.classifier.Classify(ctx, comment, title)
	if classifyErr != nil {
		code := agerrors.CodeOf(classifyErr)
		item.Error = classifyErr.Error()
		item.errorCode = string(code)
		observability.SetFailure(span, classifyErr, string(code), agerrors.IsRetryable(code))
		// The policy engine owns the failure logging.
		if _, err := s.evaluator.Evaluate(ctx, comment, nil, classifyErr, settings.ConfidenceThreshold); err != nil {
			s.log.Error("evaluating failed classification", logging.CommentID(commentID), logging.Err(err))
		}
		return item
	}

	decision, err := s.evaluator.Evaluate(ctx, comment, result, nil, settings.ConfidenceThreshold)
	if err != nil {
		item.Error = err.Error()
		item.errorCode = string(agerrors.ErrProcessingError)
		observability.SetFailure(span, err, string(agerrors.ErrProcessingError), false)
		return item
	}
	if decision == nil {
		// Lost the race to a concurrent trigger.
		item.Skipped = true
		return item
	}

	item.Outcome = decision.Outcome
	observability.SetOutcome(span, string(decision.Outcome), decision.Confidence)
	return item
}

func (s *Scheduler) hasDecision(ctx context.Context, commentID int64) bool {
	_, err := s.decisions.GetByComment(ctx, commentID)
	return err == nil
}

func backendName(b Backend) string {
	switch b.(type) {
	case *RedisBackend:
		return "queue"
	default:
		return "poll"
	}
}
