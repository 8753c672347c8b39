// Package app wires configuration to storage, adapters and use cases.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"LeadScanner/internal/config"
	"LeadScanner/internal/dedup"
	"LeadScanner/internal/domain"
	"LeadScanner/internal/filter"
	"LeadScanner/internal/httpapi"
	"LeadScanner/internal/infrastructure/ml"
	"LeadScanner/internal/infrastructure/reddit"
	"LeadScanner/internal/infrastructure/scheduler"
	"LeadScanner/internal/infrastructure/storage"
	"LeadScanner/internal/infrastructure/telegram"
	"LeadScanner/internal/keywords"
	"LeadScanner/internal/lifecycle"
	"LeadScanner/internal/logging"
	"LeadScanner/internal/metrics"
	"LeadScanner/internal/normalize"
	"LeadScanner/internal/ports"
	"LeadScanner/internal/source"
	"LeadScanner/internal/usecase"
)

const redditClient = "reddit"

// Application holds the wired components of one process.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	keywords  *storage.KeywordStore
	importer  *keywords.Importer
	matcher   keywords.Matcher
	metrics   *metrics.Metrics
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	operator  *usecase.Operator
}

// Option customizes New.
type Option func(*options)

type options struct {
	registry   *prometheus.Registry
	httpClient *http.Client
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithHTTPClient overrides the client used by outbound adapters.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New opens storage and builds every component. Close releases them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, dialect, cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	a := &Application{cfg: cfg, logger: baseLogger, db: db}
	if err := a.build(ctx, dialect, o); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context, dialect storage.Dialect, o options) error {
	cfg := a.cfg
	logger := a.logger

	posts := storage.NewPostRepository(a.db, dialect)
	a.keywords = storage.NewKeywordStore(a.db, dialect)
	a.importer = keywords.NewImporter(a.keywords, logger.With("component", "keywords.importer"))
	if err := a.seedKeywords(ctx); err != nil {
		return err
	}

	matcher, err := keywords.New(ctx, keywords.Kind(cfg.Keywords.Matcher), a.keywords, cfg.Keywords.Tenant,
		logger.With("component", "keywords"))
	if err != nil {
		return err
	}
	a.matcher = matcher
	if primary, secondary := matcher.Count(); primary == 0 || secondary == 0 {
		logger.Warn("keyword set is incomplete, every post will be dropped",
			"primary", primary, "secondary", secondary)
	}

	a.metrics = metrics.New(o.registry)

	normalizer, err := normalize.New(cfg.Pipeline.PermalinkBaseURL, logger.With("component", "normalize"))
	if err != nil {
		return err
	}

	redditAPI := reddit.NewClient(reddit.Config{
		BaseURL:           cfg.Reddit.BaseURL,
		AuthURL:           cfg.Reddit.AuthURL,
		ClientID:          cfg.Reddit.ClientID,
		ClientSecret:      cfg.Reddit.ClientSecret,
		Username:          cfg.Reddit.Username,
		Password:          cfg.Reddit.Password,
		UserAgent:         cfg.Reddit.UserAgent,
		RequestsPerMinute: cfg.Reddit.RequestsPerMinute,
	}, o.httpClient)

	registry := source.NewRegistry()
	registry.Register(redditClient, redditAPI)
	specs := make([]source.Spec, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		specs = append(specs, source.Spec{Name: src.Name, Client: src.Client, Collections: src.Collections})
	}
	sources, err := registry.Bind(specs)
	if err != nil {
		return err
	}

	svc := lifecycle.NewService(posts, logger.With("component", "lifecycle"),
		lifecycle.WithObserver(a.metrics.ObserveTransition))

	ads := cfg.Filters.AdIndicators
	if len(ads) == 0 {
		ads = filter.DefaultAdIndicators
	}
	markers := cfg.Filters.BusinessAuthorMarkers
	if len(markers) == 0 {
		markers = filter.DefaultBusinessAuthorMarkers
	}

	var enricher ports.Enricher
	if cfg.Classifier.Endpoint != "" {
		enricher = ml.NewClassifier(cfg.Classifier.Endpoint, cfg.Classifier.APIKey, cfg.Classifier.Timeout,
			logger.With("component", "classifier"))
	}

	var notifier ports.Notifier
	tg := cfg.Notifications.Telegram
	if n := telegram.NewNotifier(tg.APIURL, tg.BotToken, tg.ChatID); n.Enabled() {
		notifier = n
	}

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Sources:    sources,
		Posts:      posts,
		Cleanup:    usecase.NewCleanup(posts, cfg.Storage.MaxPosts, logger.With("component", "cleanup")),
		Normalizer: normalizer,
		Keywords:   filter.NewKeyword(matcher),
		Ads:        filter.NewAdvertisement(ads, markers),
		Engagement: filter.Engagement{MinUpvotes: cfg.Filters.MinUpvotes, MinComments: cfg.Filters.MinComments},
		Dedup:      dedup.NewGate(posts, logger.With("component", "dedup")),
		Enricher:   enricher,
		Lifecycle:  svc,
		Notifier:   notifier,
		Observer:   a.metrics,
		Logger:     logger.With("component", "pipeline"),
		Config: usecase.PipelineConfig{
			FetchWindow:      cfg.Pipeline.FetchWindow,
			Limit:            cfg.Pipeline.Limit,
			FetchTimeout:     cfg.Pipeline.FetchTimeout,
			FetchConcurrency: cfg.Pipeline.FetchConcurrency,
			RateLimitRetries: cfg.Pipeline.RateLimitRetries,
			RateLimitBackoff: cfg.Pipeline.RateLimitBackoff,
			MaxBackoff:       cfg.Pipeline.MaxBackoff,
		},
	})

	correctors := usecase.NewCorrectors(posts, svc, usecase.CorrectorConfig{
		ExpireAfter:   cfg.Automation.ExpireAfter(),
		UnassignAfter: cfg.Automation.UnassignAfter(),
	}, logger.With("component", "correctors"), nil)

	driver := scheduler.NewCronScheduler(logger.With("component", "cron"),
		scheduler.WithSkipHook(a.metrics.JobSkipped))
	a.scheduler = usecase.NewScheduler(driver, a.pipeline, correctors, usecase.ScheduleConfig{
		CrawlInterval:    cfg.Scheduler.CrawlInterval,
		ExpireInterval:   cfg.Scheduler.ExpireInterval,
		UnassignInterval: cfg.Scheduler.UnassignInterval,
		RunOnStart:       cfg.Scheduler.RunOnStart,
	}, logger.With("component", "scheduler"))

	var replies ports.ReplyClient
	if cfg.Reddit.EnableReplies {
		replies = redditAPI
	}
	a.operator = usecase.NewOperator(usecase.OperatorDeps{
		Posts:     posts,
		Lifecycle: svc,
		Replies:   replies,
		Scheduler: a.scheduler,
		Matcher:   matcher,
		Logger:    logger.With("component", "operator"),
	})
	return nil
}

// seedKeywords fills an empty keyword table from the seed file or the inline
// lists of the configuration.
func (a *Application) seedKeywords(ctx context.Context) error {
	kc := a.cfg.Keywords
	if kc.SeedFile != "" {
		existing, err := a.keywords.List(ctx)
		if err != nil {
			return fmt.Errorf("list keywords: %w", err)
		}
		if len(existing) == 0 {
			if _, err := a.importer.ImportFile(ctx, kc.SeedFile); err != nil {
				return fmt.Errorf("seed keywords: %w", err)
			}
			return nil
		}
	}

	seeded, err := a.importer.Seed(ctx, keywords.File{Tenant: kc.Tenant, Primary: kc.Primary, Secondary: kc.Secondary})
	if err != nil {
		return fmt.Errorf("seed keywords: %w", err)
	}
	if seeded {
		a.logger.Info("keywords seeded from configuration", "primary", len(kc.Primary), "secondary", len(kc.Secondary))
	}
	return nil
}

// Serve runs the scheduler and the HTTP API until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	handler := httpapi.NewHandler(a.operator, a.db.PingContext, a.logger.With("component", "http"))
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(handler, a.metrics.Handler(), a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
		a.logger.Info("service stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// RunOnce executes a single pipeline run outside the scheduler.
func (a *Application) RunOnce(ctx context.Context) domain.RunResult {
	return a.pipeline.Run(ctx)
}

// ImportKeywords loads a YAML keyword file and refreshes the matcher.
func (a *Application) ImportKeywords(ctx context.Context, path string) (keywords.ImportStats, error) {
	stats, err := a.importer.ImportFile(ctx, path)
	if err != nil {
		return stats, err
	}
	if err := a.matcher.Reload(ctx); err != nil {
		return stats, fmt.Errorf("reload keywords: %w", err)
	}
	return stats, nil
}

// Keywords lists every stored keyword.
func (a *Application) Keywords(ctx context.Context) ([]domain.Keyword, error) {
	return a.keywords.List(ctx)
}

// Close releases the database.
func (a *Application) Close() error {
	return a.db.Close()
}
