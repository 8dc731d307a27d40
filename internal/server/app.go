// Package server builds the application's dependencies from configuration and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/api"
	"github.com/JakeFAU/reddit-leadgen/internal/clock/system"
	"github.com/JakeFAU/reddit-leadgen/internal/config"
	"github.com/JakeFAU/reddit-leadgen/internal/cooldown"
	"github.com/JakeFAU/reddit-leadgen/internal/dispatcher"
	"github.com/JakeFAU/reddit-leadgen/internal/generator"
	"github.com/JakeFAU/reddit-leadgen/internal/hash/sha256"
	"github.com/JakeFAU/reddit-leadgen/internal/id/uuid"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/llm/gemini"
	"github.com/JakeFAU/reddit-leadgen/internal/llm/openai"
	"github.com/JakeFAU/reddit-leadgen/internal/logging"
	"github.com/JakeFAU/reddit-leadgen/internal/policy/ratelimit"
	"github.com/JakeFAU/reddit-leadgen/internal/postqueue"
	"github.com/JakeFAU/reddit-leadgen/internal/progress"
	progresssinks "github.com/JakeFAU/reddit-leadgen/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/reddit-leadgen/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/reddit-leadgen/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/reddit-leadgen/internal/queue/memory"
	queuepubsub "github.com/JakeFAU/reddit-leadgen/internal/queue/pubsub"
	"github.com/JakeFAU/reddit-leadgen/internal/reddit"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
	"github.com/JakeFAU/reddit-leadgen/internal/schedule"
	"github.com/JakeFAU/reddit-leadgen/internal/scrape"
	collyscraper "github.com/JakeFAU/reddit-leadgen/internal/scrape/colly"
	"github.com/JakeFAU/reddit-leadgen/internal/scrape/firecrawl"
	"github.com/JakeFAU/reddit-leadgen/internal/scrape/headless"
	"github.com/JakeFAU/reddit-leadgen/internal/search/google"
	gcsstorage "github.com/JakeFAU/reddit-leadgen/internal/storage/gcs"
	localstorage "github.com/JakeFAU/reddit-leadgen/internal/storage/local"
	memorystorage "github.com/JakeFAU/reddit-leadgen/internal/storage/memory"
	pgstore "github.com/JakeFAU/reddit-leadgen/internal/storage/postgres"
	"github.com/JakeFAU/reddit-leadgen/internal/telemetry"
	"github.com/JakeFAU/reddit-leadgen/internal/worker"
	"github.com/JakeFAU/reddit-leadgen/internal/workflow"
)

// snapshotDigestLength bounds website snapshot object names.
const snapshotDigestLength = 16

// RecordStore is every persistence interface the services need, served by one backend.
type RecordStore interface {
	leadgen.OrgStore
	leadgen.CampaignStore
	leadgen.ResultStore
	leadgen.ProgressStore
	leadgen.AccountStore
	leadgen.QueueStore
	leadgen.CooldownStore
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	registry       prometheus.Registerer
	store          RecordStore
	pg             *pgstore.Store
	apiServer      *api.Server
	orchestrator   *workflow.Orchestrator
	dispatch       *dispatcher.Dispatcher
	processor      *postqueue.Processor
	progressHub    *progress.Hub
	memQueue       *queuememory.Queue
	pubsubQueue    *queuepubsub.Queue
	pubsubClient   *pubsub.Client
	publisher      *gcppublisher.Publisher
	storage        *storage.Client
	renderer       *headless.Renderer
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	app := &App{cfg: cfg, logger: logger, registry: reg}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("blob", cfg.Blob.Backend),
		zap.String("runs", cfg.Runs.Backend),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("search", cfg.Search.Provider),
		zap.String("scraper", cfg.Scraper.Provider),
		logging.Redact("reddit_client_id", cfg.Reddit.ClientID),
		logging.Redact("llm_api_key", cfg.LLM.APIKey),
	)

	var err error
	app.tracerShutdown, err = telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err = app.setupStore(ctx); err != nil {
		return app, err
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return app, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}
	runQueue, err := app.setupRunQueue(ctx)
	if err != nil {
		return app, err
	}
	emitter, err := app.setupProgress(ctx)
	if err != nil {
		return app, err
	}

	initial, maxDelay := cfg.RetryBackoff()
	policy := retry.NewExponential(cfg.HTTP.MaxRetries, initial, maxDelay)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
		Hosts:        redditHosts(cfg.Reddit),
	})

	redditClient, err := reddit.New(reddit.Config{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
		UserAgent:    cfg.Reddit.UserAgent,
		BaseURL:      cfg.Reddit.BaseURL,
		TokenURL:     cfg.Reddit.TokenURL,
		Timeout:      cfg.HTTPTimeout(),
	}, limiter, policy, logger)
	if err != nil {
		return app, fmt.Errorf("reddit client init failed: %w", err)
	}

	llm, err := app.setupLLM(ctx, limiter, policy)
	if err != nil {
		return app, err
	}
	search, err := app.setupSearch(ctx, redditClient, limiter, policy)
	if err != nil {
		return app, err
	}
	scraper, err := app.setupScraper(limiter, policy)
	if err != nil {
		return app, err
	}

	clock := system.New()
	ids := uuid.New()
	gen := generator.New(llm, policy, logger)
	app.orchestrator, err = workflow.New(workflow.Deps{
		Orgs:      app.store,
		Campaigns: app.store,
		Results:   app.store,
		Progress:  app.store,
		Queue:     runQueue,
		Blobs:     blobs,
		Publisher: publisher,
		Scraper:   scraper,
		Search:    search,
		Threads:   redditClient,
		Generator: gen,
		Hasher:    sha256.New(sha256.WithLength(snapshotDigestLength)),
		Clock:     clock,
		IDs:       ids,
		Emitter:   emitter,
		Retry:     policy,
	}, workflow.Config{
		Limits:       cfg.RunLimits(),
		CommentLimit: cfg.Workflow.CommentLimit,
	}, logger)
	if err != nil {
		return app, fmt.Errorf("workflow init failed: %w", err)
	}
	app.dispatch = dispatcher.NewPool(runQueue, app.orchestrator, cfg.Runs.Workers, worker.Config{
		RunTimeout: time.Duration(cfg.Runs.RunTimeoutMinutes) * time.Minute,
	}, logger)

	calc := schedule.New()
	queueSvc, err := postqueue.New(postqueue.Deps{
		Accounts:  app.store,
		Queue:     app.store,
		Campaigns: app.store,
		Results:   app.store,
		Cooldown:  cooldown.New(app.store, clock, time.Duration(cfg.Posting.CooldownHours)*time.Hour),
		Reddit:    redditClient,
		Publisher: publisher,
		Schedule:  calc,
		Clock:     clock,
		IDs:       ids,
	}, postqueue.Config{
		DefaultDailyCap: cfg.Posting.DefaultDailyCap,
		MaxAttempts:     cfg.Posting.MaxAttempts,
		BatchSize:       cfg.Posting.BatchSize,
		RetryBackoff:    time.Duration(cfg.Posting.RetryBackoffMinutes) * time.Minute,
	}, logger)
	if err != nil {
		return app, fmt.Errorf("posting queue init failed: %w", err)
	}
	if cfg.Posting.Enabled {
		app.processor = postqueue.NewProcessor(
			queueSvc,
			cfg.Posting.CronSpec,
			time.Duration(cfg.Posting.TickTimeoutSeconds)*time.Second,
			logger,
		)
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer, err = api.NewServer(api.Deps{
		Orgs:      app.store,
		Campaigns: app.store,
		Results:   app.store,
		Runs:      app.orchestrator,
		Queue:     queueSvc,
		Schedule:  calc,
		Clock:     clock,
		IDs:       ids,
		Drafts:    gen,
		Ready:     app.ready,
	}, api.Config{
		APIKey:         apiKey,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, logger.Named("api"))
	if err != nil {
		return app, fmt.Errorf("api init failed: %w", err)
	}
	return app, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers, the posting processor and the HTTP server, and
// blocks until the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Runs.Workers))
		a.dispatch.Run(ctx)
		if ctx.Err() == nil {
			a.logger.Error("dispatcher exited while serving, shutting down")
			stop()
		}
	}()
	if a.processor != nil {
		if err := a.processor.Start(ctx); err != nil {
			return fmt.Errorf("start queue processor: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close releases every resource Build acquired. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	if a.processor != nil {
		if err := a.processor.Stop(ctx); err != nil {
			a.logger.Warn("queue processor stop failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.pubsubQueue != nil {
		if err := a.pubsubQueue.Close(); err != nil {
			a.logger.Warn("run queue close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Ping(ctx)
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Store.Backend != config.BackendPostgres {
		a.logger.Info("using in-memory record store")
		a.store = memorystorage.NewStore()
		return nil
	}
	pg, err := OpenPostgres(ctx, a.cfg.DB)
	if err != nil {
		return err
	}
	a.pg = pg
	a.store = pg
	if a.cfg.DB.MigrateOnStart {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
		a.logger.Info("database schema migrated")
	}
	a.logger.Info("postgres record store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

// OpenPostgres connects to the configured database.
func OpenPostgres(ctx context.Context, cfg config.DBConfig) (*pgstore.Store, error) {
	pg, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: time.Duration(cfg.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	return pg, nil
}

func (a *App) setupBlobStore(ctx context.Context) (leadgen.BlobStore, error) {
	switch a.cfg.Blob.Backend {
	case config.BackendGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Blob.Bucket, Prefix: a.cfg.Blob.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Blob.Bucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Blob.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("path", a.cfg.Blob.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory blob store")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) pubsubClientFor(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	return client, nil
}

func (a *App) setupPublisher(ctx context.Context) (leadgen.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Warn("Pub/Sub disabled, using in-memory publisher")
		return memorypublisher.New(a.logger.Named("publisher")), nil
	}
	client, err := a.pubsubClientFor(ctx)
	if err != nil {
		return nil, err
	}
	a.publisher = gcppublisher.New(client, a.cfg.PubSub.TopicPrefix)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic_prefix", a.cfg.PubSub.TopicPrefix),
	)
	return a.publisher, nil
}

func (a *App) setupRunQueue(ctx context.Context) (leadgen.RunQueue, error) {
	if a.cfg.Runs.Backend != config.BackendPubSub {
		a.memQueue = queuememory.NewQueue(a.cfg.Runs.QueueDepth)
		a.logger.Info("using in-memory run queue", zap.Int("depth", a.cfg.Runs.QueueDepth))
		return a.memQueue, nil
	}
	// The queue owns and closes its client, so it gets one of its own.
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub run queue client init failed: %w", err)
	}
	a.pubsubQueue, err = queuepubsub.New(ctx, client, queuepubsub.Config{
		ProjectID:      a.cfg.PubSub.ProjectID,
		TopicID:        a.cfg.PubSub.RunTopic,
		SubscriptionID: a.cfg.PubSub.RunSubscription,
		MaxOutstanding: a.cfg.Runs.Workers,
	}, a.logger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub run queue init failed: %w", err)
	}
	a.logger.Info("using Pub/Sub run queue", zap.String("subscription", a.cfg.PubSub.RunSubscription))
	return a.pubsubQueue, nil
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.progressHub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, progresssinks.NewLogSink(a.logger.Named("progress_log")), promSink)
	a.logger.Info("progress hub initialized")
	return a.progressHub, nil
}

func (a *App) setupLLM(ctx context.Context, limiter *ratelimit.Limiter, policy retry.Policy) (leadgen.Completer, error) {
	switch a.cfg.LLM.Provider {
	case config.ProviderGemini:
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:      a.cfg.LLM.APIKey,
			Model:       a.cfg.LLM.Model,
			Temperature: float32(a.cfg.LLM.Temperature),
			BaseURL:     a.cfg.LLM.BaseURL,
		}, policy, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gemini client init failed: %w", err)
		}
		a.logger.Info("using Gemini", zap.String("model", a.cfg.LLM.Model))
		return client, nil
	default:
		client, err := openai.New(openai.Config{
			APIKey:      a.cfg.LLM.APIKey,
			BaseURL:     a.cfg.LLM.BaseURL,
			Model:       a.cfg.LLM.Model,
			Temperature: a.cfg.LLM.Temperature,
			MaxTokens:   a.cfg.LLM.MaxTokens,
			Timeout:     a.cfg.HTTPTimeout(),
		}, limiter, policy, a.logger)
		if err != nil {
			return nil, fmt.Errorf("openai client init failed: %w", err)
		}
		a.logger.Info("using OpenAI", zap.String("model", a.cfg.LLM.Model))
		return client, nil
	}
}

func (a *App) setupSearch(
	ctx context.Context,
	redditClient *reddit.Client,
	limiter *ratelimit.Limiter,
	policy retry.Policy,
) (leadgen.SearchProvider, error) {
	if a.cfg.Search.Provider != config.ProviderGoogle {
		a.logger.Info("using Reddit search")
		return redditClient, nil
	}
	provider, err := google.New(ctx, google.Config{
		APIKey:   a.cfg.Search.GoogleAPIKey,
		EngineID: a.cfg.Search.GoogleEngineID,
		Endpoint: a.cfg.Search.GoogleEndpoint,
	}, limiter, policy, a.logger)
	if err != nil {
		return nil, fmt.Errorf("google search init failed: %w", err)
	}
	a.logger.Info("using Google custom search", zap.String("engine", a.cfg.Search.GoogleEngineID))
	return provider, nil
}

func (a *App) setupScraper(limiter *ratelimit.Limiter, policy retry.Policy) (leadgen.Scraper, error) {
	sc := a.cfg.Scraper
	timeout := time.Duration(sc.TimeoutSeconds) * time.Second
	if sc.Provider == config.ProviderFirecrawl {
		client, err := firecrawl.New(firecrawl.Config{
			APIKey:     sc.FirecrawlAPIKey,
			BaseURL:    sc.FirecrawlBaseURL,
			Timeout:    timeout,
			MaxContent: sc.MaxContent,
		}, policy, a.logger)
		if err != nil {
			return nil, fmt.Errorf("firecrawl init failed: %w", err)
		}
		a.logger.Info("using Firecrawl scraper")
		return client, nil
	}

	static := collyscraper.New(collyscraper.Config{
		UserAgent:     sc.UserAgent,
		RespectRobots: sc.RespectRobots,
		Timeout:       timeout,
	}, limiter, a.logger)
	var renderer scrape.Fetcher
	if sc.HeadlessEnabled {
		r, err := headless.NewChromedp(headless.Config{
			MaxParallel:       sc.HeadlessMaxParallel,
			UserAgent:         sc.UserAgent,
			NavigationTimeout: time.Duration(sc.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			a.logger.Warn("headless renderer init failed, continuing without it", zap.Error(err))
		} else {
			a.renderer = r
			renderer = r
			a.logger.Info("using headless renderer", zap.Int("max_parallel", sc.HeadlessMaxParallel))
		}
	}
	scraper, err := scrape.New(static, renderer, scrape.Config{
		MinTextLength: sc.MinTextLength,
		MaxContent:    sc.MaxContent,
		Retry:         policy,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}
	a.logger.Info("using colly scraper", zap.String("user_agent", sc.UserAgent))
	return scraper, nil
}

// redditHosts throttles both Reddit API hosts with the reddit section's rate.
func redditHosts(cfg config.RedditConfig) map[string]ratelimit.Rule {
	if cfg.RPS <= 0 {
		return nil
	}
	rule := ratelimit.Rule{RPS: cfg.RPS, Burst: cfg.Burst}
	hosts := map[string]ratelimit.Rule{
		reddit.DefaultBaseURL:  rule,
		reddit.DefaultTokenURL: rule,
	}
	if cfg.BaseURL != "" {
		hosts[cfg.BaseURL] = rule
	}
	return hosts
}
