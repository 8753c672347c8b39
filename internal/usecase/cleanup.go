package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"LeadScanner/internal/ports"
)

// Cleanup keeps the post table under a row ceiling by evicting the oldest
// fetched posts.
type Cleanup struct {
	repo     ports.PostRepository
	maxPosts int64
	logger   *slog.Logger
}

// NewCleanup builds a cleanup step. maxPosts <= 0 disables eviction.
func NewCleanup(repo ports.PostRepository, maxPosts int64, logger *slog.Logger) *Cleanup {
	return &Cleanup{repo: repo, maxPosts: maxPosts, logger: logger}
}

// Run deletes posts above the ceiling and returns how many were removed.
func (c *Cleanup) Run(ctx context.Context) (int64, error) {
	if c == nil || c.repo == nil || c.maxPosts <= 0 {
		return 0, nil
	}

	count, err := c.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	if count <= c.maxPosts {
		return 0, nil
	}

	deleted, err := c.repo.DeleteOldest(ctx, count-c.maxPosts)
	if err != nil {
		return 0, fmt.Errorf("evict oldest posts: %w", err)
	}

	if c.logger != nil {
		c.logger.Info("evicted oldest posts", "count", count, "ceiling", c.maxPosts, "deleted", deleted)
	}
	return deleted, nil
}
