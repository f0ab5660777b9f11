package scheduler

import (
	"context"
	"sync"
	"time"
)

// Backend delivers deferred moderation units. Implementations must
// deduplicate by comment id: while a unit is outstanding for a comment,
// further Defer calls for it are no-ops.
type Backend interface {
	// Defer schedules processing of the comment no earlier than notBefore.
	// Returns false when a unit is already outstanding for the comment.
	Defer(ctx context.Context, commentID int64, notBefore time.Time) (bool, error)

	// Complete clears the outstanding marker for a comment, whether or not
	// processing succeeded. The decision-exists check is what prevents
	// re-processing, not this marker.
	Complete(ctx context.Context, commentID int64) error

	// Close releases backend resources and stops pending deliveries.
	Close() error
}

// ProcessFunc is invoked when a deferred unit fires. A returned error marks
// the unit failed; backends may retry it with backoff.
type ProcessFunc func(ctx context.Context, commentID int64) error

// TimerBackend delivers deferred units with in-process timers. It is the
// poll-mode backend: delivery dies with the process, and the periodic sweep
// picks up anything lost.
type TimerBackend struct {
	process ProcessFunc

	mu      sync.Mutex
	pending map[int64]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewTimerBackend creates a timer backend delivering to process.
func NewTimerBackend(process ProcessFunc) *TimerBackend {
	return &TimerBackend{
		process: process,
		pending: make(map[int64]*time.Timer),
	}
}

// Defer schedules an in-process timer for the comment.
func (b *TimerBackend) Defer(ctx context.Context, commentID int64, notBefore time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, nil
	}
	if _, outstanding := b.pending[commentID]; outstanding {
		return false, nil
	}

	delay := time.Until(notBefore)
	if delay < 0 {
		delay = 0
	}

	b.wg.Add(1)
	b.pending[commentID] = time.AfterFunc(delay, func() {
		defer b.wg.Done()

		// Failures are not retried here: the sweep is the retry path for
		// poll mode.
		_ = b.process(context.Background(), commentID)

		b.mu.Lock()
		delete(b.pending, commentID)
		b.mu.Unlock()
	})
	return true, nil
}

// Complete clears the outstanding marker if the timer has not fired yet.
func (b *TimerBackend) Complete(ctx context.Context, commentID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if timer, ok := b.pending[commentID]; ok {
		if timer.Stop() {
			b.wg.Done()
		}
		delete(b.pending, commentID)
	}
	return nil
}

// Close cancels all pending timers and waits for in-flight deliveries.
func (b *TimerBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	for id, timer := range b.pending {
		if timer.Stop() {
			b.wg.Done()
		}
		delete(b.pending, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

var _ Backend = (*TimerBackend)(nil)
