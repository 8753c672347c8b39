package keywords

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"LeadScanner/internal/ports"
)

// SetMatcher checks every loaded term against the text.
type SetMatcher struct {
	repo     ports.KeywordRepository
	tenantID string
	logger   *slog.Logger
	snapshot atomic.Pointer[terms]
}

var _ Matcher = (*SetMatcher)(nil)

// NewSetMatcher returns an empty matcher; call Reload to load terms.
func NewSetMatcher(repo ports.KeywordRepository, tenantID string, logger *slog.Logger) *SetMatcher {
	m := &SetMatcher{repo: repo, tenantID: tenantID, logger: logger}
	m.snapshot.Store(&terms{})
	return m
}

// Match returns the primary and secondary terms contained in text.
func (m *SetMatcher) Match(text string) MatchResult {
	lowered, ok := prepareText(text)
	if !ok {
		return MatchResult{}
	}

	snap := m.snapshot.Load()
	var primary, secondary []string
	for _, term := range snap.primary {
		if strings.Contains(lowered, term) {
			primary = append(primary, term)
		}
	}
	for _, term := range snap.secondary {
		if strings.Contains(lowered, term) {
			secondary = append(secondary, term)
		}
	}
	return buildResult(primary, secondary)
}

// Count returns the number of loaded terms per category.
func (m *SetMatcher) Count() (int, int) {
	snap := m.snapshot.Load()
	return len(snap.primary), len(snap.secondary)
}

// Reload replaces the snapshot. On failure the previous terms stay active.
func (m *SetMatcher) Reload(ctx context.Context) error {
	loaded, err := loadTerms(ctx, m.repo, m.tenantID)
	if err != nil {
		if m.logger != nil {
			m.logger.Error("keyword reload failed, keeping previous set", "error", err)
		}
		return err
	}

	m.snapshot.Store(&loaded)
	if m.logger != nil {
		m.logger.Info("keywords reloaded", "matcher", KindSet, "primary", len(loaded.primary), "secondary", len(loaded.secondary))
	}
	return nil
}
