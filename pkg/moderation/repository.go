package moderation

import (
	"context"
	"time"
)

// CommentStore is the contract this system needs from the externally-owned
// comment storage backend.
type CommentStore interface {
	// Get returns the comment with the given id, or agerrors.ErrNotFound.
	Get(ctx context.Context, id int64) (*Comment, error)

	// ListByStatus returns comments in the given status, oldest first.
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Comment, error)

	// SetStatus transitions a comment's status. The actor tag identifies
	// whether the pipeline or a human issued the change; actorName names the
	// operator for human changes. Implementations invoke the registered
	// TransitionObserver after a successful write.
	SetStatus(ctx context.Context, id int64, status Status, actor Actor, actorName string) error

	// DocumentTitle returns the title of the document a comment belongs to,
	// for prompt context. Missing documents yield an empty title, not an
	// error.
	DocumentTitle(ctx context.Context, documentID int64) (string, error)
}

// CommentCreator extends CommentStore for backends that route creation
// through this system so the hold filter can intercept the initial status.
type CommentCreator interface {
	// Create persists a new comment. The registered CreateFilter decides the
	// initial status before the write.
	Create(ctx context.Context, c *Comment) (*Comment, error)
}

// CreateFilter intercepts comment creation and returns the status the comment
// should be stored with. Must be fast: no network calls.
type CreateFilter interface {
	FilterNew(c *Comment, proposed Status) Status
}

// TransitionObserver is notified after every comment status transition.
// The guard registers itself here to detect human overrides of AI decisions.
type TransitionObserver interface {
	ObserveTransition(ctx context.Context, commentID int64, oldStatus, newStatus Status, actor Actor, actorName string)
}

// DecisionStore is the durable, append-only decision record.
type DecisionStore interface {
	// Create persists a decision unless one already exists for the comment.
	// Returns false (and no error) when a decision already existed; this is
	// the pipeline's concurrency guard, so implementations must make the
	// existence check and insert as atomic as the backend allows.
	Create(ctx context.Context, d *Decision) (bool, error)

	// GetByComment returns the decision for a comment, or agerrors.ErrNotFound.
	GetByComment(ctx context.Context, commentID int64) (*Decision, error)

	// MarkOverridden sets the overridden fields on a comment's decision.
	// Returns false when no decision exists or it was already overridden.
	MarkOverridden(ctx context.Context, commentID int64, by string, at time.Time) (bool, error)

	// List returns decisions newest first.
	List(ctx context.Context, limit, offset int) ([]*Decision, error)

	// Clear deletes all decisions and returns how many were removed.
	Clear(ctx context.Context) (int64, error)
}
