package keywords

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
)

type fakeRepo struct {
	mu   sync.Mutex
	rows []domain.Keyword
	err  error
}

func (f *fakeRepo) Enabled(_ context.Context, tenantID string) ([]domain.Keyword, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Keyword
	for _, kw := range f.rows {
		if kw.Enabled && (kw.TenantID == "" || kw.TenantID == tenantID) {
			out = append(out, kw)
		}
	}
	return out, nil
}

func (f *fakeRepo) List(context.Context) ([]domain.Keyword, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Keyword(nil), f.rows...), f.err
}

func (f *fakeRepo) Upsert(_ context.Context, kw domain.Keyword) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	kw.Term = domain.NormalizeTerm(kw.Term)
	for i, existing := range f.rows {
		if existing.Term == kw.Term && existing.Category == kw.Category && existing.TenantID == kw.TenantID {
			f.rows[i].Enabled = kw.Enabled
			return nil
		}
	}
	f.rows = append(f.rows, kw)
	return nil
}

func (f *fakeRepo) set(rows []domain.Keyword, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.err = rows, err
}

func kw(term string, category domain.Category) domain.Keyword {
	return domain.Keyword{Term: term, Category: category, Enabled: true}
}

func laRepo() *fakeRepo {
	return &fakeRepo{rows: []domain.Keyword{
		kw("buy a house", domain.CategoryPrimary),
		kw("first time home buyer", domain.CategoryPrimary),
		kw("los angeles", domain.CategorySecondary),
		kw("san diego", domain.CategorySecondary),
	}}
}

func newMatchers(t *testing.T, repo *fakeRepo) map[Kind]Matcher {
	t.Helper()

	out := map[Kind]Matcher{}
	for _, kind := range []Kind{KindSet, KindAutomaton} {
		m, err := New(context.Background(), kind, repo, "", nil)
		require.NoError(t, err)
		out[kind] = m
	}
	return out
}

func TestMatchLosAngelesScenario(t *testing.T) {
	t.Parallel()

	for kind, m := range newMatchers(t, laRepo()) {
		t.Run(string(kind), func(t *testing.T) {
			res := m.Match("Want to BUY A HOUSE in Los Angeles")
			assert.True(t, res.KeepWorthy())
			assert.Equal(t, []string{"buy a house"}, res.MatchedPrimary)
			assert.Equal(t, []string{"los angeles"}, res.MatchedSecondary)

			res = m.Match("Want to buy a house somewhere")
			assert.True(t, res.HasPrimary)
			assert.False(t, res.HasSecondary)
			assert.False(t, res.KeepWorthy())

			res = m.Match("Los Angeles weather is great")
			assert.False(t, res.HasPrimary)
			assert.True(t, res.HasSecondary)
			assert.False(t, res.KeepWorthy())
		})
	}
}

func TestMatchIsPlainSubstringContainment(t *testing.T) {
	t.Parallel()

	for kind, m := range newMatchers(t, laRepo()) {
		t.Run(string(kind), func(t *testing.T) {
			// "buying a house" does not contain the phrase "buy a house".
			res := m.Match("Thinking about buying a house, maybe in Los Angeles")
			assert.False(t, res.HasPrimary)
			assert.Empty(t, res.MatchedPrimary)
			assert.Equal(t, []string{"los angeles"}, res.MatchedSecondary)
			assert.False(t, res.KeepWorthy())
		})
	}
}

func TestMatchEmptyText(t *testing.T) {
	t.Parallel()

	for kind, m := range newMatchers(t, laRepo()) {
		for _, text := range []string{"", "   ", "\n\t"} {
			assert.Equal(t, MatchResult{}, m.Match(text), "kind %s text %q", kind, text)
		}
	}
}

func TestMatchReportsEachTermOnce(t *testing.T) {
	t.Parallel()

	for kind, m := range newMatchers(t, laRepo()) {
		res := m.Match("buy a house, buy a house, Los Angeles or los angeles or San Diego")
		assert.Equal(t, []string{"buy a house"}, res.MatchedPrimary, kind)
		assert.Equal(t, []string{"los angeles", "san diego"}, res.MatchedSecondary, kind)
	}
}

func TestEmptyCategoryIsNeverKeepWorthy(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{rows: []domain.Keyword{kw("buy a house", domain.CategoryPrimary)}}
	for kind, m := range newMatchers(t, repo) {
		primary, secondary := m.Count()
		assert.Equal(t, 1, primary, kind)
		assert.Zero(t, secondary, kind)
		assert.False(t, m.Match("buy a house in los angeles").KeepWorthy(), kind)
	}

	for kind, m := range newMatchers(t, &fakeRepo{}) {
		assert.False(t, m.Match("anything at all").KeepWorthy(), kind)
	}
}

func TestSetAndAutomatonAgree(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	for i := 0; i < 200; i++ {
		repo.rows = append(repo.rows, kw(fmt.Sprintf("intent %03d", i), domain.CategoryPrimary))
		repo.rows = append(repo.rows, kw(fmt.Sprintf("city%03d", i), domain.CategorySecondary))
	}
	// overlapping and shared terms
	repo.rows = append(repo.rows,
		kw("home", domain.CategoryPrimary),
		kw("homes", domain.CategorySecondary),
		kw("moving", domain.CategoryPrimary),
		kw("moving", domain.CategorySecondary),
	)

	matchers := newMatchers(t, repo)
	texts := []string{
		"Intent 007 near CITY199 and city000",
		"homes for sale, moving soon",
		"nothing relevant here",
		"intent 1999 city0000 home",
		strings.Repeat("intent 042 ", 50) + "city042",
	}
	for _, text := range texts {
		assert.Equal(t, matchers[KindSet].Match(text), matchers[KindAutomaton].Match(text), text)
	}

	sp, ss := matchers[KindSet].Count()
	ap, as := matchers[KindAutomaton].Count()
	assert.Equal(t, sp, ap)
	assert.Equal(t, ss, as)
}

func TestReloadKeepsPreviousSetOnFailure(t *testing.T) {
	t.Parallel()

	repo := laRepo()
	for kind, m := range newMatchers(t, repo) {
		repo.set(repo.rows, errors.New("db down"))
		err := m.Reload(context.Background())
		require.Error(t, err, kind)
		assert.True(t, m.Match("buy a house in los angeles").KeepWorthy(), kind)

		repo.set([]domain.Keyword{kw("relocating to", domain.CategoryPrimary), kw("austin", domain.CategorySecondary)}, nil)
		require.NoError(t, m.Reload(context.Background()), kind)
		assert.False(t, m.Match("buy a house in los angeles").KeepWorthy(), kind)
		assert.True(t, m.Match("relocating to Austin").KeepWorthy(), kind)

		repo.set(laRepo().rows, nil)
	}
}

func TestReloadIsAtomicForConcurrentMatches(t *testing.T) {
	t.Parallel()

	setA := []domain.Keyword{kw("alpha", domain.CategoryPrimary), kw("zone a", domain.CategorySecondary)}
	setB := []domain.Keyword{kw("beta", domain.CategoryPrimary), kw("zone b", domain.CategorySecondary)}
	repo := &fakeRepo{rows: setA}

	for kind, m := range newMatchers(t, repo) {
		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					res := m.Match("alpha beta zone a zone b")
					// a mixed snapshot would report terms from both sets
					if len(res.MatchedPrimary) != 1 || len(res.MatchedSecondary) != 1 {
						t.Errorf("%s: mixed snapshot %+v", kind, res)
						return
					}
				}
			}()
		}
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				repo.set(setB, nil)
			} else {
				repo.set(setA, nil)
			}
			require.NoError(t, m.Reload(context.Background()))
		}
		close(stop)
		wg.Wait()
	}
}

func TestTenantSeesOwnAndGlobalTerms(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{rows: []domain.Keyword{
		kw("buy a house", domain.CategoryPrimary),
		{Term: "seattle", Category: domain.CategorySecondary, TenantID: "acme", Enabled: true},
		{Term: "portland", Category: domain.CategorySecondary, TenantID: "other", Enabled: true},
	}}

	m, err := New(context.Background(), KindAutomaton, repo, "acme", nil)
	require.NoError(t, err)
	assert.True(t, m.Match("buy a house in Seattle").KeepWorthy())
	assert.False(t, m.Match("buy a house in Portland").KeepWorthy())
}

func TestNewRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Kind("fts"), laRepo(), "", nil)
	require.Error(t, err)
}
