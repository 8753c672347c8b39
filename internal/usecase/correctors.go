package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/lifecycle"
	"LeadScanner/internal/ports"
)

// CorrectorConfig holds the staleness thresholds.
type CorrectorConfig struct {
	ExpireAfter   time.Duration
	UnassignAfter time.Duration
}

// CorrectorReport summarises one corrector pass.
type CorrectorReport struct {
	Candidates int
	Corrected  int
	Skipped    int
}

// Correctors archive forgotten pending posts and release stale assignments.
// Every change goes through the lifecycle service.
type Correctors struct {
	posts     ports.PostRepository
	lifecycle *lifecycle.Service
	cfg       CorrectorConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewCorrectors builds the automated correctors.
func NewCorrectors(posts ports.PostRepository, svc *lifecycle.Service, cfg CorrectorConfig, logger *slog.Logger, clock func() time.Time) *Correctors {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Correctors{posts: posts, lifecycle: svc, cfg: cfg, logger: logger, now: clock}
}

// ExpirePending archives pending posts untouched for longer than ExpireAfter.
func (c *Correctors) ExpirePending(ctx context.Context) (CorrectorReport, error) {
	return c.correct(ctx, "auto_expire", domain.StatusPending, c.cfg.ExpireAfter, c.lifecycle.AutoExpire)
}

// UnassignStale returns assigned posts without a reply for longer than
// UnassignAfter to the queue.
func (c *Correctors) UnassignStale(ctx context.Context) (CorrectorReport, error) {
	return c.correct(ctx, "auto_unassign", domain.StatusAssigned, c.cfg.UnassignAfter, c.lifecycle.AutoUnassign)
}

func (c *Correctors) correct(
	ctx context.Context,
	name string,
	status domain.Status,
	age time.Duration,
	apply func(context.Context, int64) (domain.Post, error),
) (CorrectorReport, error) {
	var report CorrectorReport
	if age <= 0 {
		return report, nil
	}

	cutoff := c.now().UTC().Add(-age)
	ids, err := c.posts.StaleIDs(ctx, status, cutoff)
	if err != nil {
		return report, fmt.Errorf("%s: select stale posts: %w", name, err)
	}
	report.Candidates = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := apply(ctx, id); err != nil {
			// usually an operator got there first
			report.Skipped++
			c.logger.Warn("corrector skipped post", "job", name, "post_id", id, "error", err)
			continue
		}
		report.Corrected++
	}

	if report.Candidates > 0 {
		c.logger.Info("corrector finished", "job", name,
			"candidates", report.Candidates, "corrected", report.Corrected, "skipped", report.Skipped)
	}
	return report, nil
}
