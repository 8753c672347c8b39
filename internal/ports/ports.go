package ports

import (
	"context"
	"time"

	"LeadScanner/internal/domain"
)

// SourceClient pulls raw items of one collection from an upstream provider.
type SourceClient interface {
	Fetch(ctx context.Context, collection string, since time.Time, limit int) ([]domain.RawItem, error)
}

// ReplyClient publishes an operator reply to the upstream item.
type ReplyClient interface {
	PostReply(ctx context.Context, sourceID, text string) (string, error)
}

// MutateFunc inspects the current post and returns the status log entry to
// append. It may modify the post in place; returning an error aborts the
// mutation.
type MutateFunc func(post *domain.Post) (*domain.StatusLog, error)

// PostRepository stores posts, their status history and operator notes.
type PostRepository interface {
	Count(ctx context.Context) (int64, error)
	DeleteOldest(ctx context.Context, n int64) (int64, error)
	ExistingSourceIDs(ctx context.Context, ids []string) (map[string]bool, error)
	ExistingPermalinks(ctx context.Context, permalinks []string) (map[string]bool, error)
	Insert(ctx context.Context, post domain.Post) (int64, error)
	Get(ctx context.Context, id int64) (domain.Post, error)
	List(ctx context.Context, filter domain.PostFilter) ([]domain.Post, error)
	StaleIDs(ctx context.Context, status domain.Status, before time.Time) ([]int64, error)
	Mutate(ctx context.Context, id int64, fn MutateFunc) (domain.Post, error)
	History(ctx context.Context, id int64) ([]domain.StatusLog, error)
	AddNote(ctx context.Context, note domain.Note) (domain.Note, error)
}

// KeywordRepository persists classification keywords.
type KeywordRepository interface {
	Enabled(ctx context.Context, tenantID string) ([]domain.Keyword, error)
	List(ctx context.Context) ([]domain.Keyword, error)
	Upsert(ctx context.Context, kw domain.Keyword) error
}

// Enricher augments posts before they are persisted.
type Enricher interface {
	Enrich(ctx context.Context, posts []domain.Post) ([]domain.Post, error)
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler runs named periodic jobs, never overlapping a job with itself.
type Scheduler interface {
	Every(name string, interval time.Duration, job func(context.Context)) error
	RunExclusive(ctx context.Context, name string, job func(context.Context)) error
	Status() map[string]domain.JobStatus
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
