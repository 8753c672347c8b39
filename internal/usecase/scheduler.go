package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// Job names known to the scheduler.
const (
	JobPipeline     = "pipeline"
	JobAutoExpire   = "auto_expire"
	JobAutoUnassign = "auto_unassign"
)

// ScheduleConfig holds job intervals.
type ScheduleConfig struct {
	CrawlInterval    time.Duration
	ExpireInterval   time.Duration
	UnassignInterval time.Duration
	RunOnStart       bool
}

// Scheduler wires the cron-like driver with the pipeline and the correctors.
type Scheduler struct {
	driver     ports.Scheduler
	pipeline   *Pipeline
	correctors *Correctors
	cfg        ScheduleConfig
	logger     *slog.Logger

	mu      sync.Mutex
	lastRun *domain.RunResult
}

// NewScheduler returns a helper to start/stop recurring jobs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, correctors *Correctors, cfg ScheduleConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, pipeline: pipeline, correctors: correctors, cfg: cfg, logger: logger}
}

// Start registers the jobs with the driver and starts it.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	if s.pipeline != nil {
		if err := s.driver.Every(JobPipeline, s.cfg.CrawlInterval, func(ctx context.Context) { s.runPipeline(ctx) }); err != nil {
			return fmt.Errorf("register %s: %w", JobPipeline, err)
		}
	}
	if s.correctors != nil {
		if err := s.driver.Every(JobAutoExpire, s.cfg.ExpireInterval, s.expire); err != nil {
			return fmt.Errorf("register %s: %w", JobAutoExpire, err)
		}
		if err := s.driver.Every(JobAutoUnassign, s.cfg.UnassignInterval, s.unassign); err != nil {
			return fmt.Errorf("register %s: %w", JobAutoUnassign, err)
		}
	}

	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	if s.cfg.RunOnStart && s.pipeline != nil {
		go func() {
			if _, err := s.TriggerRun(ctx); err != nil {
				s.logger.Warn("startup run skipped", "error", err)
			}
		}()
	}
	return nil
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// TriggerRun executes the pipeline now under the same single-flight guard as
// scheduled ticks. It returns domain.ErrJobRunning if a run is in progress.
func (s *Scheduler) TriggerRun(ctx context.Context) (domain.RunResult, error) {
	if s.pipeline == nil {
		return domain.RunResult{}, fmt.Errorf("no pipeline configured")
	}

	var result domain.RunResult
	err := s.driver.RunExclusive(ctx, JobPipeline, func(ctx context.Context) {
		result = s.runPipeline(ctx)
	})
	if err != nil {
		return domain.RunResult{}, err
	}
	return result, nil
}

// Status reports every job's last and next run.
func (s *Scheduler) Status() map[string]domain.JobStatus {
	if s.driver == nil {
		return map[string]domain.JobStatus{}
	}
	return s.driver.Status()
}

// LastRun returns the most recent pipeline result, if any.
func (s *Scheduler) LastRun() (domain.RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return domain.RunResult{}, false
	}
	return *s.lastRun, true
}

func (s *Scheduler) runPipeline(ctx context.Context) domain.RunResult {
	result := s.pipeline.Run(ctx)
	if st, ok := s.driver.Status()[JobPipeline]; ok {
		result.NextRunAt = st.NextRun
	}

	s.mu.Lock()
	s.lastRun = &result
	s.mu.Unlock()
	return result
}

func (s *Scheduler) expire(ctx context.Context) {
	if _, err := s.correctors.ExpirePending(ctx); err != nil {
		s.logger.Error("auto expire failed", "error", err)
	}
}

func (s *Scheduler) unassign(ctx context.Context) {
	if _, err := s.correctors.UnassignStale(ctx); err != nil {
		s.logger.Error("auto unassign failed", "error", err)
	}
}
