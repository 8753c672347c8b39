// Package scheduler drives periodic jobs on top of robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

// CronScheduler runs named jobs at constant intervals. A job never overlaps
// with itself: a tick or manual run that finds it busy is skipped, not queued.
type CronScheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	onSkip func(job string)

	mu      sync.Mutex
	jobs    map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type entry struct {
	id      cron.EntryID
	job     func(context.Context)
	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// Option customizes a CronScheduler.
type Option func(*CronScheduler)

// WithSkipHook is called with the job name whenever an overlapping run is skipped.
func WithSkipHook(fn func(job string)) Option {
	return func(c *CronScheduler) { c.onSkip = fn }
}

// NewCronScheduler builds a stopped scheduler.
func NewCronScheduler(logger *slog.Logger, opts ...Option) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CronScheduler{
		logger: logger,
		jobs:   make(map[string]*entry),
		ctx:    context.Background(),
	}
	c.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Every registers job under name to run every interval once started.
func (c *CronScheduler) Every(name string, interval time.Duration, job func(context.Context)) error {
	if job == nil {
		return fmt.Errorf("job %s: nil func", name)
	}
	if interval < time.Second {
		return fmt.Errorf("job %s: interval %s is below one second", name, interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}

	e := &entry{job: job}
	e.id = c.cron.Schedule(cron.Every(interval), cron.FuncJob(func() { c.tick(name, e) }))
	c.jobs[name] = e
	c.logger.Info("job scheduled", "job", name, "interval", interval)
	return nil
}

// RunExclusive runs job now under the guard of name and blocks until it
// returns. It yields domain.ErrJobRunning if name is already running.
func (c *CronScheduler) RunExclusive(ctx context.Context, name string, job func(context.Context)) error {
	e := c.entry(name)
	if !e.running.CompareAndSwap(false, true) {
		c.skipped(name)
		return fmt.Errorf("job %s: %w", name, domain.ErrJobRunning)
	}
	defer e.running.Store(false)

	if job == nil {
		job = e.job
	}
	if job == nil {
		return fmt.Errorf("job %s has nothing to run", name)
	}
	c.execute(ctx, name, e, job)
	return nil
}

// Status reports last and next run per job.
func (c *CronScheduler) Status() map[string]domain.JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]domain.JobStatus, len(c.jobs))
	for name, e := range c.jobs {
		e.mu.Lock()
		st := domain.JobStatus{LastRun: e.lastRun, Running: e.running.Load()}
		e.mu.Unlock()
		if c.started && e.id != 0 {
			st.NextRun = c.cron.Entry(e.id).Next
		}
		out[name] = st
	}
	return out
}

// Start begins dispatching ticks. Jobs receive a context derived from ctx
// that is cancelled by Stop.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.cron.Start()
	c.started = true
	c.logger.Info("scheduler started", "jobs", len(c.jobs))
	return nil
}

// Stop halts new ticks and waits for running jobs until ctx expires, then
// cancels them.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	done := c.cron.Stop()
	defer cancel()

	select {
	case <-done.Done():
		c.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

func (c *CronScheduler) entry(name string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[name]
	if !ok {
		e = &entry{}
		c.jobs[name] = e
	}
	return e
}

func (c *CronScheduler) tick(name string, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		c.skipped(name)
		return
	}
	defer e.running.Store(false)

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	c.execute(ctx, name, e, e.job)
}

func (c *CronScheduler) execute(ctx context.Context, name string, e *entry, job func(context.Context)) {
	started := time.Now()
	e.mu.Lock()
	e.lastRun = started
	e.mu.Unlock()

	c.logger.Debug("job started", "job", name)
	job(ctx)
	c.logger.Debug("job finished", "job", name, "duration", time.Since(started))
}

func (c *CronScheduler) skipped(name string) {
	c.logger.Warn("job still running, skipping", "job", name)
	if c.onSkip != nil {
		c.onSkip(name)
	}
}

// cronLogger adapts slog to the cron.Logger interface used by cron.Recover.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
