// Package keywords classifies free text against primary and secondary keyword sets.
package keywords

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// Kind selects a matcher implementation.
type Kind string

const (
	// KindSet scans every term with strings.Contains; fine for hundreds of terms.
	KindSet Kind = "set"
	// KindAutomaton builds an Aho-Corasick automaton and scans the text once.
	KindAutomaton Kind = "automaton"
)

// MatchResult reports which keywords of each category occur in a text.
type MatchResult struct {
	HasPrimary       bool
	HasSecondary     bool
	MatchedPrimary   []string
	MatchedSecondary []string
}

// KeepWorthy reports whether both categories matched.
func (r MatchResult) KeepWorthy() bool {
	return r.HasPrimary && r.HasSecondary
}

// Matcher classifies text against the currently loaded keyword snapshot.
// Implementations are safe for concurrent use; Reload swaps the snapshot
// atomically so a Match call never observes a partially loaded set.
type Matcher interface {
	Match(text string) MatchResult
	Count() (primary, secondary int)
	Reload(ctx context.Context) error
}

// New builds the matcher of the given kind and performs the initial load.
func New(ctx context.Context, kind Kind, repo ports.KeywordRepository, tenantID string, logger *slog.Logger) (Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m Matcher
	switch kind {
	case KindSet, "":
		m = NewSetMatcher(repo, tenantID, logger)
	case KindAutomaton:
		m = NewAutomatonMatcher(repo, tenantID, logger)
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", kind)
	}

	if err := m.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial keyword load: %w", err)
	}
	return m, nil
}

// terms is the deduplicated, normalized keyword set of one snapshot.
type terms struct {
	primary   []string
	secondary []string
}

func loadTerms(ctx context.Context, repo ports.KeywordRepository, tenantID string) (terms, error) {
	if repo == nil {
		return terms{}, fmt.Errorf("keyword repository is not configured")
	}

	rows, err := repo.Enabled(ctx, tenantID)
	if err != nil {
		return terms{}, fmt.Errorf("load keywords: %w", err)
	}
	return partition(rows), nil
}

func partition(rows []domain.Keyword) terms {
	var t terms
	seen := map[domain.Category]map[string]bool{
		domain.CategoryPrimary:   {},
		domain.CategorySecondary: {},
	}

	for _, kw := range rows {
		if !kw.Enabled {
			continue
		}
		term := domain.NormalizeTerm(kw.Term)
		bucket, ok := seen[kw.Category]
		if term == "" || !ok || bucket[term] {
			continue
		}
		bucket[term] = true

		if kw.Category == domain.CategoryPrimary {
			t.primary = append(t.primary, term)
		} else {
			t.secondary = append(t.secondary, term)
		}
	}
	return t
}

func prepareText(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return strings.ToLower(text), true
}

func buildResult(primary, secondary []string) MatchResult {
	sort.Strings(primary)
	sort.Strings(secondary)
	return MatchResult{
		HasPrimary:       len(primary) > 0,
		HasSecondary:     len(secondary) > 0,
		MatchedPrimary:   primary,
		MatchedSecondary: secondary,
	}
}
