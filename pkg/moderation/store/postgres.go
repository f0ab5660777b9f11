package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/moderation"
)

// Postgres is the pgx-backed comment and decision store. Decision creation
// relies on the unique index on moderation_decisions.comment_id: INSERT ...
// ON CONFLICT DO NOTHING makes create-unless-exists atomic across processes.
type Postgres struct {
	pool *pgxpool.Pool

	mu       sync.RWMutex
	filter   moderation.CreateFilter
	observer moderation.TransitionObserver
}

// NewPostgres creates a store on an existing connection pool. The caller owns
// the pool's lifecycle.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// SetCreateFilter registers the filter consulted on comment creation.
func (p *Postgres) SetCreateFilter(f moderation.CreateFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter = f
}

// SetTransitionObserver registers the observer notified after status writes.
func (p *Postgres) SetTransitionObserver(o moderation.TransitionObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

const commentColumns = "id, author_name, author_email, content, document_id, document_type, status, spam_hint, created_at"

func scanComment(row pgx.Row) (*moderation.Comment, error) {
	var c moderation.Comment
	err := row.Scan(
		&c.ID, &c.AuthorName, &c.AuthorEmail, &c.Content,
		&c.DocumentID, &c.DocumentType, &c.Status, &c.SpamHint, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agerrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan comment: %w", err)
	}
	return &c, nil
}

// Create persists a new comment, routing the proposed status through the
// registered create filter.
func (p *Postgres) Create(ctx context.Context, c *moderation.Comment) (*moderation.Comment, error) {
	stored := *c
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	p.mu.RLock()
	filter := p.filter
	p.mu.RUnlock()
	if filter != nil {
		stored.Status = filter.FilterNew(&stored, stored.Status)
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO comments (author_name, author_email, content, document_id, document_type, status, spam_hint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		stored.AuthorName, stored.AuthorEmail, stored.Content,
		stored.DocumentID, stored.DocumentType, stored.Status, stored.SpamHint, stored.CreatedAt,
	)
	if err := row.Scan(&stored.ID); err != nil {
		return nil, fmt.Errorf("insert comment: %w", err)
	}
	return &stored, nil
}

// Get returns the comment with the given id.
func (p *Postgres) Get(ctx context.Context, id int64) (*moderation.Comment, error) {
	row := p.pool.QueryRow(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE id = $1", id)
	return scanComment(row)
}

// ListByStatus returns comments in the given status, oldest first.
func (p *Postgres) ListByStatus(ctx context.Context, status moderation.Status, limit, offset int) ([]*moderation.Comment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		"SELECT "+commentColumns+` FROM comments
		 WHERE status = $1
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*moderation.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// SetStatus transitions a comment's status and notifies the registered
// observer after the write.
func (p *Postgres) SetStatus(ctx context.Context, id int64, status moderation.Status, actor moderation.Actor, actorName string) error {
	if !status.IsValid() {
		return agerrors.ErrValidation
	}

	var oldStatus moderation.Status
	row := p.pool.QueryRow(ctx, `
		UPDATE comments AS c SET status = $2
		FROM (SELECT status FROM comments WHERE id = $1 FOR UPDATE) AS old
		WHERE c.id = $1
		RETURNING old.status`,
		id, status)
	if err := row.Scan(&oldStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return agerrors.ErrNotFound
		}
		return fmt.Errorf("update comment status: %w", err)
	}

	p.mu.RLock()
	observer := p.observer
	p.mu.RUnlock()
	if observer != nil {
		observer.ObserveTransition(ctx, id, oldStatus, status, actor, actorName)
	}
	return nil
}

// DocumentTitle returns the title of a comment's document, or empty when the
// document is missing.
func (p *Postgres) DocumentTitle(ctx context.Context, documentID int64) (string, error) {
	var title string
	err := p.pool.QueryRow(ctx,
		"SELECT title FROM documents WHERE id = $1", documentID).Scan(&title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fetch document title: %w", err)
	}
	return title, nil
}

// Decisions returns the store's moderation.DecisionStore view.
func (p *Postgres) Decisions() moderation.DecisionStore {
	return (*postgresDecisions)(p)
}

// postgresDecisions adapts Postgres to the DecisionStore interface.
type postgresDecisions Postgres

const decisionColumns = `id, comment_id, outcome, suggested_outcome, confidence, reasoning,
	model, parameter_notes, processing_ms, overridden, overridden_by, overridden_at, created_at`

func scanDecision(row pgx.Row) (*moderation.Decision, error) {
	var d moderation.Decision
	var processingMs int64
	var overriddenBy *string
	err := row.Scan(
		&d.ID, &d.CommentID, &d.Outcome, &d.SuggestedOutcome, &d.Confidence, &d.Reasoning,
		&d.Model, &d.ParameterNotes, &processingMs, &d.Overridden, &overriddenBy, &d.OverriddenAt, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, agerrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan decision: %w", err)
	}
	d.ProcessingTime = time.Duration(processingMs) * time.Millisecond
	if overriddenBy != nil {
		d.OverriddenBy = *overriddenBy
	}
	return &d, nil
}

func (p *postgresDecisions) Create(ctx context.Context, d *moderation.Decision) (bool, error) {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO moderation_decisions
			(comment_id, outcome, suggested_outcome, confidence, reasoning, model, parameter_notes, processing_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (comment_id) DO NOTHING
		RETURNING id`,
		d.CommentID, d.Outcome, d.SuggestedOutcome, d.Confidence, d.Reasoning,
		d.Model, d.ParameterNotes, d.ProcessingTime.Milliseconds(), createdAt,
	)
	if err := row.Scan(&d.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict: a decision already exists for this comment.
			return false, nil
		}
		return false, fmt.Errorf("insert decision: %w", err)
	}
	d.CreatedAt = createdAt
	return true, nil
}

func (p *postgresDecisions) GetByComment(ctx context.Context, commentID int64) (*moderation.Decision, error) {
	row := p.pool.QueryRow(ctx,
		"SELECT "+decisionColumns+" FROM moderation_decisions WHERE comment_id = $1", commentID)
	return scanDecision(row)
}

func (p *postgresDecisions) MarkOverridden(ctx context.Context, commentID int64, by string, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE moderation_decisions
		SET overridden = TRUE, overridden_by = $2, overridden_at = $3
		WHERE comment_id = $1 AND NOT overridden`,
		commentID, by, at)
	if err != nil {
		return false, fmt.Errorf("mark decision overridden: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *postgresDecisions) List(ctx context.Context, limit, offset int) ([]*moderation.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		"SELECT "+decisionColumns+` FROM moderation_decisions
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*moderation.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (p *postgresDecisions) Clear(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM moderation_decisions")
	if err != nil {
		return 0, fmt.Errorf("clear decisions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var (
	_ moderation.CommentStore   = (*Postgres)(nil)
	_ moderation.CommentCreator = (*Postgres)(nil)
	_ moderation.DecisionStore  = (*postgresDecisions)(nil)
)
