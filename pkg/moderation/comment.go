// Package moderation defines the core domain model for the aegis comment
// moderation pipeline: comments, decisions, actors, and the store interfaces
// the pipeline components depend on.
package moderation

import "time"

// Status is a comment's lifecycle state.
type Status string

const (
	// StatusPending means the comment is held and not publicly visible.
	StatusPending Status = "pending"
	// StatusApproved means the comment is publicly visible.
	StatusApproved Status = "approved"
	// StatusSpam means the comment was classified as spam.
	StatusSpam Status = "spam"
	// StatusTrashed means the comment was rejected and removed from view.
	StatusTrashed Status = "trashed"
)

// IsValid reports whether s is a known comment status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusSpam, StatusTrashed:
		return true
	}
	return false
}

// IsResolved reports whether s is a terminal, human-visible state.
func (s Status) IsResolved() bool {
	switch s {
	case StatusApproved, StatusSpam, StatusTrashed:
		return true
	}
	return false
}

// ContentType is the category of document a comment is attached to. Each
// category has an independent moderation toggle in configuration.
type ContentType string

const (
	ContentTypeArticle ContentType = "article"
	ContentTypePage    ContentType = "page"
	ContentTypeProduct ContentType = "product"
)

// Actor tags who issued a status-changing call. Every status transition
// carries one, so the guard can tell the pipeline's own writes apart from
// human moderation without inferring origin from ambient state.
type Actor string

const (
	// ActorSystem marks transitions applied by the moderation pipeline.
	ActorSystem Actor = "system"
	// ActorHuman marks transitions applied by an operator.
	ActorHuman Actor = "human"
)

// Comment is the slice of the externally-owned comment record this system
// reads and writes. The comment store owns everything else about it.
type Comment struct {
	ID           int64
	AuthorName   string
	AuthorEmail  string
	Content      string
	DocumentID   int64
	DocumentType ContentType
	Status       Status

	// SpamHint is a cheap pre-classification signal (links, promo phrasing)
	// recorded at creation for UI hinting only. It never influences the
	// pipeline's decision.
	SpamHint bool

	CreatedAt time.Time
}
