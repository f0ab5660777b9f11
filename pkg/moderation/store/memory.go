// Package store provides the comment and decision store implementations: a
// Postgres-backed store for production and an in-memory store used by tests
// and single-process deployments without a database.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/moderation"
)

// Memory is an in-memory comment and decision store. The create-unless-exists
// semantics of the decision table mirror the Postgres store's unique index so
// the concurrency guard behaves identically in both.
type Memory struct {
	mu sync.Mutex

	comments  map[int64]*moderation.Comment
	decisions map[int64]*moderation.Decision // keyed by comment id
	titles    map[int64]string

	nextCommentID  int64
	nextDecisionID int64

	filter   moderation.CreateFilter
	observer moderation.TransitionObserver
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		comments:  make(map[int64]*moderation.Comment),
		decisions: make(map[int64]*moderation.Decision),
		titles:    make(map[int64]string),
	}
}

// SetCreateFilter registers the filter consulted on comment creation.
func (m *Memory) SetCreateFilter(f moderation.CreateFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
}

// SetTransitionObserver registers the observer notified after status writes.
func (m *Memory) SetTransitionObserver(o moderation.TransitionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// SetDocumentTitle seeds a document title for prompt context.
func (m *Memory) SetDocumentTitle(documentID int64, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles[documentID] = title
}

// Create persists a new comment, routing the proposed status through the
// registered create filter.
func (m *Memory) Create(ctx context.Context, c *moderation.Comment) (*moderation.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *c
	m.nextCommentID++
	stored.ID = m.nextCommentID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if m.filter != nil {
		stored.Status = m.filter.FilterNew(&stored, stored.Status)
	}
	m.comments[stored.ID] = &stored

	out := stored
	return &out, nil
}

// Get returns a copy of the comment with the given id.
func (m *Memory) Get(ctx context.Context, id int64) (*moderation.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.comments[id]
	if !ok {
		return nil, agerrors.ErrNotFound
	}
	out := *c
	return &out, nil
}

// ListByStatus returns comments in the given status, oldest first.
func (m *Memory) ListByStatus(ctx context.Context, status moderation.Status, limit, offset int) ([]*moderation.Comment, error) {
	m.mu.Lock()
	matched := make([]*moderation.Comment, 0)
	for _, c := range m.comments {
		if c.Status == status {
			copied := *c
			matched = append(matched, &copied)
		}
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// SetStatus transitions a comment's status and notifies the registered
// observer after the write.
func (m *Memory) SetStatus(ctx context.Context, id int64, status moderation.Status, actor moderation.Actor, actorName string) error {
	if !status.IsValid() {
		return agerrors.ErrValidation
	}

	m.mu.Lock()
	c, ok := m.comments[id]
	if !ok {
		m.mu.Unlock()
		return agerrors.ErrNotFound
	}
	oldStatus := c.Status
	c.Status = status
	observer := m.observer
	m.mu.Unlock()

	if observer != nil {
		observer.ObserveTransition(ctx, id, oldStatus, status, actor, actorName)
	}
	return nil
}

// DocumentTitle returns the seeded title for a document, or empty.
func (m *Memory) DocumentTitle(ctx context.Context, documentID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.titles[documentID], nil
}

// CreateDecision persists a decision unless one already exists for the
// comment. Exposed on Memory directly as Create via the decisions view.
func (m *Memory) createDecision(d *moderation.Decision) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.decisions[d.CommentID]; exists {
		return false
	}
	m.nextDecisionID++
	stored := *d
	stored.ID = m.nextDecisionID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.decisions[stored.CommentID] = &stored
	d.ID = stored.ID
	return true
}

// Decisions returns the store's moderation.DecisionStore view.
func (m *Memory) Decisions() moderation.DecisionStore {
	return (*memoryDecisions)(m)
}

// memoryDecisions adapts Memory to the DecisionStore interface.
type memoryDecisions Memory

func (m *memoryDecisions) Create(ctx context.Context, d *moderation.Decision) (bool, error) {
	return (*Memory)(m).createDecision(d), nil
}

func (m *memoryDecisions) GetByComment(ctx context.Context, commentID int64) (*moderation.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.decisions[commentID]
	if !ok {
		return nil, agerrors.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (m *memoryDecisions) MarkOverridden(ctx context.Context, commentID int64, by string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.decisions[commentID]
	if !ok || d.Overridden {
		return false, nil
	}
	d.Overridden = true
	d.OverriddenBy = by
	overriddenAt := at
	d.OverriddenAt = &overriddenAt
	return true, nil
}

func (m *memoryDecisions) List(ctx context.Context, limit, offset int) ([]*moderation.Decision, error) {
	m.mu.Lock()
	all := make([]*moderation.Decision, 0, len(m.decisions))
	for _, d := range m.decisions {
		copied := *d
		all = append(all, &copied)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].ID > all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memoryDecisions) Clear(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.decisions))
	m.decisions = make(map[int64]*moderation.Decision)
	return n, nil
}

var (
	_ moderation.CommentStore   = (*Memory)(nil)
	_ moderation.CommentCreator = (*Memory)(nil)
	_ moderation.DecisionStore  = (*memoryDecisions)(nil)
)
