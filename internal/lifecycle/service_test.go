package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/infrastructure/storage"
	"LeadScanner/internal/ports"
)

type fixture struct {
	repo *storage.PostRepository
	svc  *Service
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.Open(context.Background(), storage.DialectSQLite, ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		repo: storage.NewPostRepository(db, storage.DialectSQLite),
		now:  time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, nil, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) insert(t *testing.T, sourceID string) int64 {
	t.Helper()

	id, err := f.repo.Insert(context.Background(), domain.Post{
		SourceID:        sourceID,
		Permalink:       "https://example.test/" + sourceID,
		Collection:      "test",
		Title:           "t",
		Status:          domain.StatusFetched,
		CreatedAtSource: f.now,
		FetchedAt:       f.now,
		StatusChangedAt: f.now,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) pending(t *testing.T, sourceID string) int64 {
	t.Helper()

	id := f.insert(t, sourceID)
	_, err := f.svc.Publish(context.Background(), id)
	require.NoError(t, err)
	return id
}

func TestEveryTransitionWritesOneLogRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.insert(t, "p1")

	steps := []struct {
		run  func() (domain.Post, error)
		from domain.Status
		to   domain.Status
	}{
		{func() (domain.Post, error) { return f.svc.Publish(ctx, id) }, domain.StatusFetched, domain.StatusPending},
		{func() (domain.Post, error) { return f.svc.Assign(ctx, id, "alice") }, domain.StatusPending, domain.StatusAssigned},
		{func() (domain.Post, error) { return f.svc.AutoUnassign(ctx, id) }, domain.StatusAssigned, domain.StatusPending},
		{func() (domain.Post, error) { return f.svc.Transition(ctx, id, domain.StatusAssigned, "bob", "") }, domain.StatusPending, domain.StatusAssigned},
		{func() (domain.Post, error) { return f.svc.MarkReplied(ctx, id, "bob") }, domain.StatusAssigned, domain.StatusReplied},
		{func() (domain.Post, error) { return f.svc.Archive(ctx, id, "bob") }, domain.StatusReplied, domain.StatusArchived},
	}

	for i, step := range steps {
		f.now = f.now.Add(time.Minute)
		post, err := step.run()
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.to, post.Status)
		assert.Equal(t, f.now, post.StatusChangedAt)

		history, err := f.svc.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, i+1)
		last := history[i]
		assert.Equal(t, step.from, last.OldStatus, "step %d", i)
		assert.Equal(t, step.to, last.NewStatus, "step %d", i)
	}

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stored.AssignedTo)
}

func TestAssignScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.pending(t, "scenario")

	post, err := f.svc.Assign(ctx, id, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, post.Status)
	assert.Equal(t, "A", post.AssignedTo)

	_, err = f.svc.Assign(ctx, id, "B")
	assert.ErrorIs(t, err, domain.ErrAlreadyAssigned)

	f.now = f.now.Add(25 * time.Hour)
	post, err = f.svc.AutoUnassign(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, post.Status)
	assert.Empty(t, post.AssignedTo)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, ReasonAutoUnassign, last.Reason)
	assert.Equal(t, domain.SystemActor, last.ChangedBy)
}

func TestConcurrentAssignHasSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.pending(t, "hot")

	const operators = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losses  int
	)
	for i := 0; i < operators; i++ {
		wg.Add(1)
		go func(op string) {
			defer wg.Done()
			_, err := f.svc.Assign(ctx, id, op)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, op)
			case errors.Is(err, domain.ErrAlreadyAssigned):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("op-%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, operators-1, losses)

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.AssignedTo)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMarkRepliedChecksOwnershipAndStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.pending(t, "reply")

	_, err := f.svc.MarkReplied(ctx, id, "A")
	var actionErr *domain.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.True(t, actionErr.Blocked)
	assert.ErrorIs(t, err, domain.ErrActionNotAllowed)

	_, err = f.svc.Assign(ctx, id, "A")
	require.NoError(t, err)

	_, err = f.svc.MarkReplied(ctx, id, "B")
	assert.ErrorIs(t, err, domain.ErrNotAssignedToActor)
	assert.Contains(t, err.Error(), "not assigned to you")

	_, err = f.svc.CheckReply(ctx, id, "B")
	assert.ErrorIs(t, err, domain.ErrNotAssignedToActor)
	_, err = f.svc.CheckReply(ctx, id, "A")
	require.NoError(t, err)

	post, err := f.svc.MarkReplied(ctx, id, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReplied, post.Status)

	_, err = f.svc.MarkReplied(ctx, id, "A")
	assert.ErrorIs(t, err, domain.ErrActionNotAllowed)
}

func TestIllegalTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.pending(t, "illegal")

	_, err := f.svc.Transition(ctx, id, domain.Status("deleted"), "A", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Transition(ctx, id, domain.StatusFetched, "A", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// only the system may expire
	_, err = f.svc.Apply(ctx, id, domain.ActionAutoExpire, "A", "")
	assert.ErrorIs(t, err, domain.ErrActionNotAllowed)

	_, err = f.svc.Assign(ctx, id, "A")
	require.NoError(t, err)

	// assigned posts leave only through reply or unassign
	_, err = f.svc.Transition(ctx, id, domain.StatusArchived, "A", "")
	assert.ErrorIs(t, err, domain.ErrActionNotAllowed)
	_, err = f.svc.Archive(ctx, id, "A")
	assert.ErrorIs(t, err, domain.ErrActionNotAllowed)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestArchivedPostsAreFrozen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.pending(t, "frozen")

	post, err := f.svc.AutoExpire(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, post.Status)

	for _, action := range []domain.Action{domain.ActionAssign, domain.ActionReply, domain.ActionArchive, domain.ActionAutoUnassign} {
		_, err := f.svc.Apply(ctx, id, action, domain.SystemActor, "")
		assert.ErrorIs(t, err, domain.ErrActionNotAllowed, action)
	}
	_, err = f.svc.Annotate(ctx, id, "A", "late note")
	assert.ErrorIs(t, err, domain.ErrActionNotAllowed)
}

func TestAnnotateRepliedPost(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	id := f.pending(t, "note")

	_, err := f.svc.Annotate(ctx, id, "A", "too early")
	assert.ErrorIs(t, err, domain.ErrActionNotAllowed)

	_, err = f.svc.Assign(ctx, id, "A")
	require.NoError(t, err)
	_, err = f.svc.MarkReplied(ctx, id, "A")
	require.NoError(t, err)

	note, err := f.svc.Annotate(ctx, id, "A", "  followed up by DM  ")
	require.NoError(t, err)
	assert.Equal(t, "followed up by DM", note.Body)

	_, err = f.svc.Annotate(ctx, id, "A", "   ")
	assert.ErrorIs(t, err, domain.ErrMissingField)

	history, err := f.svc.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestMissingPostAndOperator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Assign(ctx, 999, "A")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Assign(ctx, 999, " ")
	assert.ErrorIs(t, err, domain.ErrMissingField)
}

type conflictingRepo struct {
	ports.PostRepository
	conflicts int
	calls     int
	post      domain.Post
}

func (c *conflictingRepo) Mutate(_ context.Context, _ int64, fn ports.MutateFunc) (domain.Post, error) {
	c.calls++
	p := c.post
	if _, err := fn(&p); err != nil {
		return domain.Post{}, err
	}
	if c.calls <= c.conflicts {
		return domain.Post{}, domain.ErrConflict
	}
	return p, nil
}

func TestConflictsAreRetried(t *testing.T) {
	t.Parallel()

	repo := &conflictingRepo{conflicts: 2, post: domain.Post{ID: 1, Status: domain.StatusPending}}
	svc := NewService(repo, nil, WithConflictRetries(3))

	post, err := svc.Assign(context.Background(), 1, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, post.Status)
	assert.Equal(t, 3, repo.calls)

	repo = &conflictingRepo{conflicts: 10, post: domain.Post{ID: 1, Status: domain.StatusPending}}
	svc = NewService(repo, nil, WithConflictRetries(2))
	_, err = svc.Assign(context.Background(), 1, "A")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 3, repo.calls)
}

func TestObserverSeesCommittedTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var seen []string
	f.svc = NewService(f.repo, nil, WithObserver(func(from, to domain.Status, actor string) {
		seen = append(seen, fmt.Sprintf("%s>%s:%s", from, to, actor))
	}))

	id := f.insert(t, "obs")
	_, err := f.svc.Publish(context.Background(), id)
	require.NoError(t, err)
	_, err = f.svc.Assign(context.Background(), id, "zed")
	require.NoError(t, err)
	_, err = f.svc.Assign(context.Background(), id, "zed")
	require.Error(t, err)

	assert.Equal(t, []string{"fetched>pending:system", "pending>assigned:zed"}, seen)
}
