// Package dedup removes posts that were already seen in the batch or stored.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// Gate drops repeats by source id and permalink.
type Gate struct {
	repo   ports.PostRepository
	logger *slog.Logger
}

// NewGate wires the post repository used for the stored-identity check.
func NewGate(repo ports.PostRepository, logger *slog.Logger) *Gate {
	return &Gate{repo: repo, logger: logger}
}

// Filter returns the posts that are new in both the batch and storage, in
// their original order, plus the number of duplicates skipped. Persist still
// relies on the conditional insert for items that race in after this check.
func (g *Gate) Filter(ctx context.Context, posts []domain.Post) ([]domain.Post, int, error) {
	if len(posts) == 0 {
		return nil, 0, nil
	}

	seenIDs := make(map[string]bool, len(posts))
	seenLinks := make(map[string]bool, len(posts))
	batch := make([]domain.Post, 0, len(posts))
	duplicates := 0

	for _, p := range posts {
		if seenIDs[p.SourceID] || (p.Permalink != "" && seenLinks[p.Permalink]) {
			duplicates++
			continue
		}
		seenIDs[p.SourceID] = true
		if p.Permalink != "" {
			seenLinks[p.Permalink] = true
		}
		batch = append(batch, p)
	}

	if g.repo == nil {
		return batch, duplicates, nil
	}

	ids := make([]string, 0, len(batch))
	links := make([]string, 0, len(batch))
	for _, p := range batch {
		ids = append(ids, p.SourceID)
		if p.Permalink != "" {
			links = append(links, p.Permalink)
		}
	}

	storedIDs, err := g.repo.ExistingSourceIDs(ctx, ids)
	if err != nil {
		return nil, 0, fmt.Errorf("load stored ids: %w", err)
	}
	storedLinks, err := g.repo.ExistingPermalinks(ctx, links)
	if err != nil {
		return nil, 0, fmt.Errorf("load stored permalinks: %w", err)
	}

	kept := batch[:0]
	for _, p := range batch {
		if storedIDs[p.SourceID] || (p.Permalink != "" && storedLinks[p.Permalink]) {
			duplicates++
			continue
		}
		kept = append(kept, p)
	}

	if g.logger != nil {
		g.logger.Debug("dedup done", "input", len(posts), "kept", len(kept), "duplicates", duplicates)
	}
	return kept, duplicates, nil
}
