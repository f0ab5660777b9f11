package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-moderation/aegis/pkg/logging"
)

// AuditWriter persists audit log entries to the audit_log table. It is the
// logging.LogWriter backend the audit sink batches into.
type AuditWriter struct {
	pool *pgxpool.Pool
}

// NewAuditWriter creates an audit writer on an existing connection pool.
func NewAuditWriter(pool *pgxpool.Pool) *AuditWriter {
	return &AuditWriter{pool: pool}
}

// WriteBatch inserts a batch of entries in a single round trip.
func (w *AuditWriter) WriteBatch(ctx context.Context, entries []logging.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		detail, err := json.Marshal(e.Fields)
		if err != nil {
			detail = []byte("{}")
		}
		actor := e.Fields["actor"]
		batch.Queue(`
			INSERT INTO audit_log (occurred_at, level, event, comment_id, actor, detail)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.Timestamp, e.Level, e.Message, e.CommentID, actor, detail)
	}

	results := w.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}
	}
	return nil
}

// AuditRecord is a persisted audit log entry as read back for reporting.
type AuditRecord struct {
	ID         int64
	OccurredAt time.Time
	Level      string
	Event      string
	CommentID  *int64
	Actor      string
	Detail     map[string]string
}

// AuditQuery filters an audit listing. Zero values mean no filter.
type AuditQuery struct {
	CommentID int64
	Since     time.Time
	Limit     int
	Offset    int
}

// ListAudit returns audit entries newest first, optionally filtered by
// comment and time window.
func (w *AuditWriter) ListAudit(ctx context.Context, q AuditQuery) ([]*AuditRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, occurred_at, level, event, comment_id, actor, detail
		FROM audit_log
		WHERE ($1 = 0 OR comment_id = $1)
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	var since *time.Time
	if !q.Since.IsZero() {
		since = &q.Since
	}

	rows, err := w.pool.Query(ctx, query, q.CommentID, since, limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var records []*AuditRecord
	for rows.Next() {
		var r AuditRecord
		var detail []byte
		if err := rows.Scan(&r.ID, &r.OccurredAt, &r.Level, &r.Event, &r.CommentID, &r.Actor, &detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &r.Detail); err != nil {
				r.Detail = nil
			}
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

var _ logging.LogWriter = (*AuditWriter)(nil)
