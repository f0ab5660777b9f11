package logging

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// LogEntry represents an audit log entry to be written to a sink.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Service   string
	Message   string
	Fields    map[string]string

	// CommentID links the entry to a comment when the event concerns one
	// (classification failures, override detection). Nil otherwise.
	CommentID *int64
}

// LogWriter is an interface for writing log entries to persistent storage.
// Implementations should handle batching and error recovery.
type LogWriter interface {
	WriteBatch(ctx context.Context, entries []LogEntry) error
}

// Sink is an interface for components that receive log entries.
type Sink interface {
	// Write queues a log entry for async processing.
	Write(entry LogEntry)
	// Flush blocks until all queued entries are written.
	Flush(ctx context.Context) error
	// Close shuts down the sink gracefully.
	Close() error
}

// AuditSink is an async audit log sink with buffered batch writes. The
// moderation pipeline writes every failure and every override event through
// it; a full buffer drops entries rather than blocking the pipeline.
type AuditSink struct {
	writer       LogWriter
	entryChan    chan LogEntry
	flushChan    chan chan error
	flushTicker  *time.Ticker
	batchSize    int
	flushTimeout time.Duration
	wg           sync.WaitGroup
	done         chan struct{}
	mu           sync.Mutex
	closed       bool
}

// AuditSinkConfig configures an AuditSink.
type AuditSinkConfig struct {
	// Writer is the backend for persisting log entries.
	Writer LogWriter
	// BufferSize is the channel capacity (default: 1000).
	BufferSize int
	// BatchSize is the max entries per batch write (default: 100).
	BatchSize int
	// FlushInterval is how often to flush buffered entries (default: 2s).
	FlushInterval time.Duration
}

// NewAuditSink creates a new async audit log sink.
func NewAuditSink(cfg AuditSinkConfig) *AuditSink {
	if cfg.Writer == nil {
		panic("AuditSink requires a non-nil Writer")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	sink := &AuditSink{
		writer:       cfg.Writer,
		entryChan:    make(chan LogEntry, cfg.BufferSize),
		flushChan:    make(chan chan error),
		flushTicker:  time.NewTicker(cfg.FlushInterval),
		batchSize:    cfg.BatchSize,
		flushTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.run()

	return sink
}

// Write queues a log entry for async processing.
// If the buffer is full, the entry is dropped and a warning goes to stderr.
func (s *AuditSink) Write(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.entryChan <- entry:
	default:
		fmt.Fprintf(os.Stderr, "[AuditSink] Buffer full, dropping log entry: %s\n", entry.Message)
	}
}

// Flush blocks until all queued entries are written.
func (s *AuditSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	select {
	case s.flushChan <- errChan:
		select {
		case err := <-errChan:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.flushTimeout):
			return fmt.Errorf("flush timeout after %v", s.flushTimeout)
		}
	case <-time.After(100 * time.Millisecond):
		// Background goroutine is busy; it will flush on its own schedule.
		return nil
	}
}

// Close shuts down the sink gracefully.
func (s *AuditSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.flushTicker.Stop()
	s.wg.Wait()

	return nil
}

// run is the background goroutine that batches and writes log entries.
func (s *AuditSink) run() {
	defer s.wg.Done()

	batch := make([]LogEntry, 0, s.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
		defer cancel()

		err := s.writer.WriteBatch(ctx, batch)
		if err != nil {
			// Log to stderr, never crash the pipeline over audit persistence.
			fmt.Fprintf(os.Stderr, "[AuditSink] Failed to write batch of %d entries: %v\n", len(batch), err)
		}

		batch = batch[:0]
		return err
	}

	drain := func() {
		flush()
		for {
			select {
			case entry := <-s.entryChan:
				batch = append(batch, entry)
				if len(batch) >= s.batchSize {
					flush()
				}
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-s.flushTicker.C:
			flush()

		case errChan := <-s.flushChan:
			errChan <- flush()

		case <-s.done:
			drain()
			return
		}
	}
}
