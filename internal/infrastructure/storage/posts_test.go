package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(context.Background(), DialectSQLite, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func samplePost(sourceID string, fetchedAt time.Time) domain.Post {
	return domain.Post{
		SourceID:        sourceID,
		Permalink:       "https://www.reddit.com/r/test/comments/" + sourceID,
		Collection:      "test",
		Title:           "title " + sourceID,
		Body:            "body",
		Author:          "someone",
		Upvotes:         3,
		CommentCount:    1,
		Status:          domain.StatusFetched,
		CreatedAtSource: fetchedAt.Add(-time.Hour),
		FetchedAt:       fetchedAt,
		StatusChangedAt: fetchedAt,
	}
}

func TestInsertRejectsDuplicateIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	now := time.Now().UTC()

	id, err := repo.Insert(ctx, samplePost("abc", now))
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = repo.Insert(ctx, samplePost("abc", now))
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	samePermalink := samplePost("other", now)
	samePermalink.Permalink = samplePost("abc", now).Permalink
	_, err = repo.Insert(ctx, samePermalink)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	noPermalinkA := samplePost("np-a", now)
	noPermalinkA.Permalink = ""
	noPermalinkB := samplePost("np-b", now)
	noPermalinkB.Permalink = ""
	_, err = repo.Insert(ctx, noPermalinkA)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, noPermalinkB)
	require.NoError(t, err)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestExistingIdentities(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	now := time.Now().UTC()

	_, err := repo.Insert(ctx, samplePost("a1", now))
	require.NoError(t, err)

	ids, err := repo.ExistingSourceIDs(ctx, []string{"a1", "b2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a1": true}, ids)

	links, err := repo.ExistingPermalinks(ctx, []string{samplePost("a1", now).Permalink, "nope"})
	require.NoError(t, err)
	assert.Len(t, links, 1)

	empty, err := repo.ExistingSourceIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteOldestRemovesByFetchedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		_, err := repo.Insert(ctx, samplePost(fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	deleted, err := repo.DeleteOldest(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	left, err := repo.ExistingSourceIDs(ctx, []string{"p0", "p1", "p2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"p2": true}, left)
}

func TestMutateAppliesCompareAndSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	now := time.Now().UTC()

	id, err := repo.Insert(ctx, samplePost("m1", now))
	require.NoError(t, err)

	updated, err := repo.Mutate(ctx, id, func(p *domain.Post) (*domain.StatusLog, error) {
		old := p.Status
		p.Status = domain.StatusPending
		p.StatusChangedAt = now.Add(time.Minute)
		return &domain.StatusLog{OldStatus: old, NewStatus: p.Status, ChangedBy: domain.SystemActor, Reason: "ingested", ChangedAt: p.StatusChangedAt}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, updated.Status)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.WithinDuration(t, now.Add(time.Minute), stored.StatusChangedAt, time.Millisecond)

	history, err := repo.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusFetched, history[0].OldStatus)
	assert.Equal(t, domain.StatusPending, history[0].NewStatus)
	assert.Equal(t, "m1", history[0].SourceID)

	rejected := errors.New("rejected")
	_, err = repo.Mutate(ctx, id, func(*domain.Post) (*domain.StatusLog, error) { return nil, rejected })
	assert.ErrorIs(t, err, rejected)

	history, err = repo.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMutateMissingPost(t *testing.T) {
	t.Parallel()

	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	_, err := repo.Mutate(context.Background(), 42, func(*domain.Post) (*domain.StatusLog, error) {
		t.Fatal("callback must not run for a missing post")
		return nil, nil
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMutateConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	now := time.Now().UTC()
	id, err := repo.Insert(ctx, samplePost("race", now))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			_, err := repo.Mutate(ctx, id, func(p *domain.Post) (*domain.StatusLog, error) {
				if p.Status != domain.StatusFetched {
					return nil, domain.ErrInvalidTransition
				}
				p.Status = domain.StatusPending
				p.StatusChangedAt = time.Now().UTC()
				return &domain.StatusLog{OldStatus: domain.StatusFetched, NewStatus: domain.StatusPending, ChangedBy: fmt.Sprintf("w%d", worker), ChangedAt: p.StatusChangedAt}, nil
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	history, err := repo.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestListAndStaleIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	old := samplePost("old", base)
	old.Status = domain.StatusPending
	fresh := samplePost("fresh", base.Add(48*time.Hour))
	fresh.Status = domain.StatusPending
	fresh.StatusChangedAt = base.Add(48 * time.Hour)
	other := samplePost("other", base)
	other.Collection = "elsewhere"

	for _, p := range []domain.Post{old, fresh, other} {
		_, err := repo.Insert(ctx, p)
		require.NoError(t, err)
	}

	pending, err := repo.List(ctx, domain.PostFilter{Status: domain.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "fresh", pending[0].SourceID)

	byCollection, err := repo.List(ctx, domain.PostFilter{Collection: "elsewhere", Limit: 5})
	require.NoError(t, err)
	require.Len(t, byCollection, 1)
	assert.Equal(t, "other", byCollection[0].SourceID)

	stale, err := repo.StaleIDs(ctx, domain.StatusPending, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)

	got, err := repo.Get(ctx, stale[0])
	require.NoError(t, err)
	assert.Equal(t, "old", got.SourceID)
}

func TestAddNote(t *testing.T) {
	t.Parallel()

	repo := NewPostRepository(openTestDB(t), DialectSQLite)
	note, err := repo.AddNote(context.Background(), domain.Note{PostID: 7, Author: "op", Body: "called back", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Positive(t, note.ID)
}

func TestPostgresInsertConflictIsDuplicate(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db, DialectPostgres)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO posts \(source_id,permalink,.*\) VALUES \(\$1,\$2,.*\$15\) ON CONFLICT DO NOTHING RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectQuery(`INSERT INTO posts`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, err := repo.Insert(context.Background(), samplePost("pg1", now))
	require.NoError(t, err)
	assert.EqualValues(t, 11, id)

	_, err = repo.Insert(context.Background(), samplePost("pg1", now))
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMutateLostUpdateIsConflict(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db, DialectPostgres)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, source_id, .* FROM posts WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(postColumns).AddRow(
			int64(5), "s5", nil, "test", "t", "b", "a", "", 1, 0, 1, "pending", nil, now, now, now,
		))
	mock.ExpectExec(`UPDATE posts SET status = \$1, assigned_to = \$2, status_changed_at = \$3 WHERE id = \$4 AND status = \$5`).
		WithArgs("assigned", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(5), "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = repo.Mutate(context.Background(), 5, func(p *domain.Post) (*domain.StatusLog, error) {
		p.Status = domain.StatusAssigned
		p.AssignedTo = "op"
		p.StatusChangedAt = now
		return &domain.StatusLog{OldStatus: domain.StatusPending, NewStatus: domain.StatusAssigned, ChangedBy: "op", ChangedAt: now}, nil
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteOldest(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM posts WHERE id IN \(SELECT id FROM posts ORDER BY fetched_at ASC, id ASC LIMIT \$1\)`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 5))

	deleted, err := NewPostRepository(db, DialectPostgres).DeleteOldest(context.Background(), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
