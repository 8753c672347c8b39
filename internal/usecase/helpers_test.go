package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/infrastructure/storage"
	"LeadScanner/internal/lifecycle"
)

var testNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*storage.PostRepository, *storage.KeywordStore) {
	t.Helper()

	db, err := storage.Open(context.Background(), storage.DialectSQLite, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return storage.NewPostRepository(db, storage.DialectSQLite), storage.NewKeywordStore(db, storage.DialectSQLite)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newLifecycle(repo *storage.PostRepository, now time.Time) *lifecycle.Service {
	return lifecycle.NewService(repo, nil, lifecycle.WithClock(fixedClock(now)))
}

// storedPost inserts a post directly, with the given status timestamp.
func storedPost(t *testing.T, repo *storage.PostRepository, sourceID string, status domain.Status, changedAt time.Time) int64 {
	t.Helper()

	id, err := repo.Insert(context.Background(), domain.Post{
		SourceID:        sourceID,
		Permalink:       "https://www.reddit.com/r/test/comments/" + sourceID,
		Collection:      "test",
		Title:           "title " + sourceID,
		Author:          "someone",
		Status:          status,
		CreatedAtSource: changedAt,
		FetchedAt:       changedAt,
		StatusChangedAt: changedAt,
	})
	require.NoError(t, err)
	return id
}

// fakeSource serves canned items per collection. Results are consumed in
// order; the last one repeats.
type fakeSource struct {
	mu      sync.Mutex
	results map[string][]fetchResult
	calls   map[string]int
}

type fetchResult struct {
	items []domain.RawItem
	err   error
	block bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{results: map[string][]fetchResult{}, calls: map[string]int{}}
}

func (f *fakeSource) on(collection string, results ...fetchResult) *fakeSource {
	f.results[collection] = results
	return f
}

func (f *fakeSource) Fetch(ctx context.Context, collection string, _ time.Time, _ int) ([]domain.RawItem, error) {
	f.mu.Lock()
	results := f.results[collection]
	n := f.calls[collection]
	f.calls[collection]++
	f.mu.Unlock()

	if len(results) == 0 {
		return nil, errors.New("unexpected collection " + collection)
	}
	res := results[min(n, len(results)-1)]
	if res.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return res.items, res.err
}

func (f *fakeSource) callCount(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[collection]
}

func rawItem(id, collection string, upvotes int) domain.RawItem {
	return domain.RawItem{
		ID:          id,
		Collection:  collection,
		Title:       "Looking to buy my first place in Los Angeles",
		Body:        "Which neighborhoods should we look at?",
		Author:      "user_" + id,
		Permalink:   "/r/" + collection + "/comments/" + id + "/",
		Upvotes:     upvotes,
		NumComments: 4,
		CreatedAt:   testNow.Add(-time.Hour),
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (n *recordingNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, digest)
	return n.err
}
