package keywords

import (
	"context"
	"log/slog"
	"sync/atomic"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"LeadScanner/internal/ports"
)

// automaton is one immutable compiled dictionary.
type automaton struct {
	matcher   *ahocorasick.Matcher
	dict      []string
	primary   []bool
	secondary []bool
	counts    [2]int
}

func compile(t terms) *automaton {
	a := &automaton{counts: [2]int{len(t.primary), len(t.secondary)}}

	// a term present in both categories occupies a single dictionary slot
	index := make(map[string]int, len(t.primary)+len(t.secondary))
	add := func(term string) int {
		if i, ok := index[term]; ok {
			return i
		}
		index[term] = len(a.dict)
		a.dict = append(a.dict, term)
		a.primary = append(a.primary, false)
		a.secondary = append(a.secondary, false)
		return len(a.dict) - 1
	}
	for _, term := range t.primary {
		a.primary[add(term)] = true
	}
	for _, term := range t.secondary {
		a.secondary[add(term)] = true
	}

	if len(a.dict) > 0 {
		a.matcher = ahocorasick.NewStringMatcher(a.dict)
	}
	return a
}

// AutomatonMatcher scans the text once against an Aho-Corasick automaton
// built from all loaded terms.
type AutomatonMatcher struct {
	repo     ports.KeywordRepository
	tenantID string
	logger   *slog.Logger
	current  atomic.Pointer[automaton]
}

var _ Matcher = (*AutomatonMatcher)(nil)

// NewAutomatonMatcher returns an empty matcher; call Reload to load terms.
func NewAutomatonMatcher(repo ports.KeywordRepository, tenantID string, logger *slog.Logger) *AutomatonMatcher {
	m := &AutomatonMatcher{repo: repo, tenantID: tenantID, logger: logger}
	m.current.Store(compile(terms{}))
	return m
}

// Match returns the primary and secondary terms contained in text.
func (m *AutomatonMatcher) Match(text string) MatchResult {
	lowered, ok := prepareText(text)
	if !ok {
		return MatchResult{}
	}

	a := m.current.Load()
	if a.matcher == nil {
		return MatchResult{}
	}

	var primary, secondary []string
	for _, hit := range a.matcher.MatchThreadSafe([]byte(lowered)) {
		if hit < 0 || hit >= len(a.dict) {
			continue
		}
		if a.primary[hit] {
			primary = append(primary, a.dict[hit])
		}
		if a.secondary[hit] {
			secondary = append(secondary, a.dict[hit])
		}
	}
	return buildResult(primary, secondary)
}

// Count returns the number of loaded terms per category.
func (m *AutomatonMatcher) Count() (int, int) {
	a := m.current.Load()
	return a.counts[0], a.counts[1]
}

// Reload compiles a fresh automaton and swaps it in. On failure the previous
// automaton stays active.
func (m *AutomatonMatcher) Reload(ctx context.Context) error {
	loaded, err := loadTerms(ctx, m.repo, m.tenantID)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("keyword reload failed, keeping previous automaton", "error", err)
		}
		return err
	}

	m.current.Store(compile(loaded))
	if m.logger != nil {
		m.logger.Info("keywords reloaded", "matcher", KindAutomaton, "primary", len(loaded.primary), "secondary", len(loaded.secondary))
	}
	return nil
}
