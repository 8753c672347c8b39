package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"LeadScanner/internal/dedup"
	"LeadScanner/internal/domain"
	"LeadScanner/internal/filter"
	"LeadScanner/internal/lifecycle"
	"LeadScanner/internal/normalize"
	"LeadScanner/internal/ports"
	"LeadScanner/internal/source"
)

// PipelineConfig tunes fetching for one run.
type PipelineConfig struct {
	FetchWindow      time.Duration
	Limit            int
	FetchTimeout     time.Duration
	FetchConcurrency int
	RateLimitRetries int
	RateLimitBackoff time.Duration
	MaxBackoff       time.Duration
}

// RunObserver receives the outcome of every run.
type RunObserver interface {
	ObserveRun(result domain.RunResult)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Sources    []source.Source
	Posts      ports.PostRepository
	Cleanup    *Cleanup
	Normalizer *normalize.Normalizer
	Keywords   *filter.Keyword
	Ads        *filter.Advertisement
	Engagement filter.Engagement
	Dedup      *dedup.Gate
	Enricher   ports.Enricher
	Lifecycle  *lifecycle.Service
	Notifier   ports.Notifier
	Observer   RunObserver
	Logger     *slog.Logger
	Config     PipelineConfig
	Clock      func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
}

// Pipeline implements the ingestion run: cleanup, fetch, normalize, filter,
// dedup, enrich and persist.
type Pipeline struct {
	sources    []source.Source
	posts      ports.PostRepository
	cleanup    *Cleanup
	normalizer *normalize.Normalizer
	keywords   *filter.Keyword
	ads        *filter.Advertisement
	engagement filter.Engagement
	dedup      *dedup.Gate
	enricher   ports.Enricher
	lifecycle  *lifecycle.Service
	notifier   ports.Notifier
	observer   RunObserver
	logger     *slog.Logger
	cfg        PipelineConfig
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		sources:    deps.Sources,
		posts:      deps.Posts,
		cleanup:    deps.Cleanup,
		normalizer: deps.Normalizer,
		keywords:   deps.Keywords,
		ads:        deps.Ads,
		engagement: deps.Engagement,
		dedup:      deps.Dedup,
		enricher:   deps.Enricher,
		lifecycle:  deps.Lifecycle,
		notifier:   deps.Notifier,
		observer:   deps.Observer,
		logger:     deps.Logger,
		cfg:        deps.Config,
		now:        deps.Clock,
		sleep:      deps.Sleep,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.normalizer == nil {
		p.normalizer, _ = normalize.New("", p.logger)
	}
	if p.dedup == nil {
		p.dedup = dedup.NewGate(p.posts, p.logger)
	}
	if p.cfg.FetchConcurrency <= 0 {
		p.cfg.FetchConcurrency = 1
	}
	return p
}

// Run executes one pipeline pass. Failures are reported in the result.
func (p *Pipeline) Run(ctx context.Context) domain.RunResult {
	started := p.now().UTC()
	result := domain.RunResult{
		RunID:     uuid.NewString(),
		Status:    domain.RunSuccess,
		StartedAt: started,
	}
	logger := p.logger.With("run_id", result.RunID)
	logger.Info("pipeline run started", "sources", len(p.sources))

	err := p.run(ctx, logger, started, &result)
	result.CompletedAt = p.now().UTC()
	if err != nil {
		result.Status = domain.RunFailed
		result.Error = err.Error()
		logger.Error("pipeline run failed", "error", err)
	} else {
		logger.Info("pipeline run finished",
			"fetched", result.TotalFetched,
			"saved", result.TotalSaved,
			"duplicates", result.DuplicatesSkipped,
			"deleted", result.OldPostsDeleted,
			"failed_collections", len(result.FailedCollections),
			"duration", result.CompletedAt.Sub(result.StartedAt))
	}

	if p.observer != nil {
		p.observer.ObserveRun(result)
	}
	return result
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, started time.Time, result *domain.RunResult) error {
	deleted, err := p.cleanup.Run(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	result.OldPostsDeleted = deleted

	items, failed, total := p.fetch(ctx, logger, started.Add(-p.cfg.FetchWindow))
	result.TotalFetched = len(items)
	result.FailedCollections = failed
	if total > 0 && len(failed) == total {
		return fmt.Errorf("fetch: all %d collections failed", total)
	}

	posts, dropped := p.normalizer.Normalize(items)
	result.DroppedInvalid = dropped

	posts = p.filter(logger, posts, result)

	fresh, duplicates, err := p.dedup.Filter(ctx, posts)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	result.DuplicatesSkipped += duplicates

	fresh = p.enrich(ctx, logger, fresh)

	p.recoverStranded(ctx, logger, started)
	saved := p.persist(ctx, logger, fresh, result)

	p.notify(ctx, logger, saved)
	return nil
}

type fetchJob struct {
	source     string
	collection string
	client     ports.SourceClient
}

// fetch queries every configured collection, at most FetchConcurrency at a
// time, and merges the items in configuration order.
func (p *Pipeline) fetch(ctx context.Context, logger *slog.Logger, since time.Time) ([]domain.RawItem, []string, int) {
	var jobs []fetchJob
	for _, src := range p.sources {
		for _, collection := range src.Collections {
			jobs = append(jobs, fetchJob{source: src.Name, collection: collection, client: src.Client})
		}
	}

	results := make([][]domain.RawItem, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.cfg.FetchConcurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i], errs[i] = p.fetchCollection(ctx, logger, job, since)
			return nil
		})
	}
	_ = g.Wait()

	var (
		items  []domain.RawItem
		failed []string
	)
	for i, job := range jobs {
		if errs[i] != nil {
			failed = append(failed, job.source+"/"+job.collection)
			logger.Warn("collection fetch failed", "source", job.source, "collection", job.collection, "error", errs[i])
			continue
		}
		logger.Debug("collection fetched", "source", job.source, "collection", job.collection, "items", len(results[i]))
		items = append(items, results[i]...)
	}
	return items, failed, len(jobs)
}

func (p *Pipeline) fetchCollection(ctx context.Context, logger *slog.Logger, job fetchJob, since time.Time) ([]domain.RawItem, error) {
	for attempt := 0; ; attempt++ {
		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.cfg.FetchTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		}
		items, err := job.client.Fetch(callCtx, job.collection, since, p.cfg.Limit)
		cancel()

		if err == nil {
			return p.window(items, job.collection, since), nil
		}
		if !errors.Is(err, domain.ErrRateLimited) || attempt >= p.cfg.RateLimitRetries {
			return nil, err
		}

		wait := p.backoff(attempt, err)
		logger.Warn("rate limited, backing off", "collection", job.collection, "attempt", attempt+1, "wait", wait)
		if err := p.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("backoff interrupted: %w", err)
		}
	}
}

// backoff doubles the base delay per attempt. A server-provided retry hint
// wins when larger. Both are capped by MaxBackoff.
func (p *Pipeline) backoff(attempt int, err error) time.Duration {
	wait := p.cfg.RateLimitBackoff << attempt
	var rl *domain.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > wait {
		wait = rl.RetryAfter
	}
	if p.cfg.MaxBackoff > 0 && wait > p.cfg.MaxBackoff {
		wait = p.cfg.MaxBackoff
	}
	return wait
}

// window enforces the since bound and the per-collection limit regardless of
// what the client returned.
func (p *Pipeline) window(items []domain.RawItem, collection string, since time.Time) []domain.RawItem {
	out := make([]domain.RawItem, 0, len(items))
	for _, item := range items {
		if !item.CreatedAt.IsZero() && item.CreatedAt.Before(since) {
			continue
		}
		if item.Collection == "" {
			item.Collection = collection
		}
		out = append(out, item)
		if p.cfg.Limit > 0 && len(out) == p.cfg.Limit {
			break
		}
	}
	return out
}

func (p *Pipeline) filter(logger *slog.Logger, posts []domain.Post, result *domain.RunResult) []domain.Post {
	kept := make([]domain.Post, 0, len(posts))
	for _, post := range posts {
		match, ok := p.keywords.Keep(post)
		if !ok {
			result.DroppedKeyword++
			continue
		}
		if indicator, ad := p.ads.Match(post); ad {
			result.DroppedAdvert++
			logger.Debug("advertisement dropped", "source_id", post.SourceID, "indicator", indicator)
			continue
		}
		if !p.engagement.Keep(post) {
			result.DroppedEngagement++
			continue
		}
		logger.Debug("post kept", "source_id", post.SourceID,
			"primary", strings.Join(match.MatchedPrimary, ","),
			"secondary", strings.Join(match.MatchedSecondary, ","))
		kept = append(kept, post)
	}
	return kept
}

func (p *Pipeline) enrich(ctx context.Context, logger *slog.Logger, posts []domain.Post) []domain.Post {
	if p.enricher == nil || len(posts) == 0 {
		return posts
	}
	enriched, err := p.enricher.Enrich(ctx, posts)
	if err != nil {
		logger.Warn("enrichment failed, persisting posts as normalized", "error", err)
		return posts
	}
	return enriched
}

// recoverStranded publishes posts a crashed run inserted but never moved out
// of fetched.
func (p *Pipeline) recoverStranded(ctx context.Context, logger *slog.Logger, started time.Time) {
	if p.posts == nil || p.lifecycle == nil {
		return
	}
	ids, err := p.posts.StaleIDs(ctx, domain.StatusFetched, started)
	if err != nil {
		logger.Warn("cannot look up stranded posts", "error", err)
		return
	}
	for _, id := range ids {
		if _, err := p.lifecycle.Publish(ctx, id); err != nil {
			logger.Warn("cannot publish stranded post", "post_id", id, "error", err)
			continue
		}
		logger.Info("published stranded post", "post_id", id)
	}
}

func (p *Pipeline) persist(ctx context.Context, logger *slog.Logger, posts []domain.Post, result *domain.RunResult) []domain.Post {
	if p.posts == nil {
		return nil
	}

	saved := make([]domain.Post, 0, len(posts))
	for _, post := range posts {
		post.Status = domain.StatusFetched
		id, err := p.posts.Insert(ctx, post)
		if errors.Is(err, domain.ErrDuplicate) {
			result.DuplicatesSkipped++
			continue
		}
		if err != nil {
			result.PersistErrors++
			logger.Error("persist post", "source_id", post.SourceID, "error", err)
			continue
		}

		post.ID = id
		if p.lifecycle != nil {
			published, err := p.lifecycle.Publish(ctx, id)
			if err != nil {
				// the row stays in fetched and is picked up by recoverStranded
				result.PersistErrors++
				logger.Error("publish post", "post_id", id, "error", err)
				continue
			}
			post = published
		}

		saved = append(saved, post)
		result.TotalSaved++
	}
	return saved
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, saved []domain.Post) {
	if p.notifier == nil || len(saved) == 0 {
		return
	}
	if err := p.notifier.PublishDigest(ctx, buildDigestMessage(saved)); err != nil {
		logger.Warn("publish digest", "error", err)
	}
}

func buildDigestMessage(posts []domain.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new posts\n\n", len(posts))
	for _, post := range posts {
		fmt.Fprintf(&b, "- [%s] %s\nUpvotes: %d, comments: %d\n%s\n\n",
			post.Collection,
			post.Title,
			post.Upvotes,
			post.CommentCount,
			post.Permalink)
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
