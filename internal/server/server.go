// Package server builds the application graph and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/seo-brief/internal/analysis/llm"
	"github.com/JakeFAU/seo-brief/internal/api"
	"github.com/JakeFAU/seo-brief/internal/archive"
	"github.com/JakeFAU/seo-brief/internal/brief"
	"github.com/JakeFAU/seo-brief/internal/clock/system"
	"github.com/JakeFAU/seo-brief/internal/config"
	"github.com/JakeFAU/seo-brief/internal/dispatcher"
	"github.com/JakeFAU/seo-brief/internal/events"
	eventsinks "github.com/JakeFAU/seo-brief/internal/events/sinks"
	"github.com/JakeFAU/seo-brief/internal/extract"
	collyfetcher "github.com/JakeFAU/seo-brief/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/seo-brief/internal/fetcher/headless"
	"github.com/JakeFAU/seo-brief/internal/hash/sha256"
	"github.com/JakeFAU/seo-brief/internal/headless/detector"
	"github.com/JakeFAU/seo-brief/internal/id/uuid"
	"github.com/JakeFAU/seo-brief/internal/logging"
	"github.com/JakeFAU/seo-brief/internal/policy/ratelimit"
	"github.com/JakeFAU/seo-brief/internal/policy/simple"
	gcppublisher "github.com/JakeFAU/seo-brief/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/seo-brief/internal/queue/memory"
	"github.com/JakeFAU/seo-brief/internal/report"
	"github.com/JakeFAU/seo-brief/internal/search/serper"
	gcsstorage "github.com/JakeFAU/seo-brief/internal/storage/gcs"
	localstorage "github.com/JakeFAU/seo-brief/internal/storage/local"
	memoryStorage "github.com/JakeFAU/seo-brief/internal/storage/memory"
	"github.com/JakeFAU/seo-brief/internal/stream"
	"github.com/JakeFAU/seo-brief/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	registerer   prometheus.Registerer
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	queue        *queueMemory.Queue
	jobStore     *memoryStorage.JobStore
	eventHub     *events.Hub
	headless     *headlessfetcher.Fetcher
	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	storage      *storage.Client
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer registers event collectors against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// Build creates the application's dependencies. Nothing is started until Run.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		zap.ReplaceGlobals(logger)
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Worker.Concurrency),
	)

	clock := system.New()
	app.jobStore = memoryStorage.NewJobStore(uuid.New(), clock)
	app.queue = queueMemory.NewQueue()

	archiver, err := app.setupArchive(ctx, clock)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	emitter, err := app.setupEvents()
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.dispatch = app.setupDispatcher(clock, archiver, emitter)

	streamer := stream.New(app.jobStore, stream.Config{
		Interval:       cfg.StreamInterval(),
		HeartbeatTicks: cfg.Stream.HeartbeatTicks,
	})
	app.apiServer = api.NewServer(app.jobStore, app.dispatch, streamer, *cfg, app.logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and drains the queue until ctx ends or SIGINT/SIGTERM
// arrives, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		return a.dispatch.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout())
		defer cancel()
		// Open event streams never finish on their own; cut them off after the timeout.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown error", zap.Error(err))
			_ = srv.Close()
		}
		a.queue.Close()
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close releases infrastructure clients and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr/stdout fails on some platforms; that is not a shutdown error.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.eventHub != nil {
		if err := a.eventHub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
		a.eventHub = nil
	}
	if a.headless != nil {
		a.headless.Close()
		a.headless = nil
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
		a.pubsubTopic = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
}

func (a *App) setupArchive(ctx context.Context, clock brief.Clock) (worker.Archiver, error) {
	if !a.cfg.Archive.Enabled {
		a.logger.Info("report archive disabled")
		return nil, nil
	}
	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	return archive.New(blobStore, publisher, sha256.New(), clock, archive.Config{
		Prefix:      a.cfg.Archive.Prefix,
		ContentType: a.cfg.Archive.ContentType,
		Topic:       a.cfg.PubSub.TopicName,
	}, a.logger.Named("archive")), nil
}

func (a *App) setupStorage(ctx context.Context) (brief.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       a.cfg.Archive.Bucket,
			CacheControl: a.cfg.Archive.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS archive backend", zap.String("bucket", a.cfg.Archive.Bucket))
		return blobStore, nil
	case config.BackendLocal:
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local archive backend", zap.String("path", a.cfg.Archive.LocalDir))
		return blobStore, nil
	default:
		a.logger.Info("using in-memory archive backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (brief.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, report notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubTopic = client.Topic(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubTopic), nil
}

func (a *App) setupEvents() (events.Emitter, error) {
	cfg := a.cfg.Events
	if !cfg.Enabled {
		a.logger.Info("pipeline events disabled")
		return nil, nil
	}
	var sinkList []events.Sink
	if cfg.LogEnabled {
		sinkList = append(sinkList, eventsinks.NewLogSink(a.logger.Named("events")))
	}
	if cfg.MetricsEnabled {
		sink, err := eventsinks.NewPrometheusSink(a.registerer)
		if err != nil {
			return nil, fmt.Errorf("event metrics sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("pipeline events enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := events.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("event_hub"),
	}
	a.eventHub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.eventHub, nil
}

func (a *App) setupDispatcher(clock brief.Clock, archiver worker.Archiver, emitter events.Emitter) *dispatcher.Dispatcher {
	cfg := a.cfg
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
	})
	a.logger.Info("using colly page fetcher", zap.String("user_agent", cfg.Fetch.UserAgent))

	var headless brief.Fetcher
	if cfg.Headless.Enabled {
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			Settle:            time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
			ExecPath:          cfg.Headless.ExecPath,
			NoSandbox:         cfg.Headless.NoSandbox,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, rendering disabled", zap.Error(err))
			headless = headlessfetcher.NewNoop()
		} else {
			a.headless = chrome
			headless = chrome
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	var limiter brief.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
			Overrides:    cfg.RateLimit.OverrideMap(),
		})
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	} else {
		limiter = simple.New()
		a.logger.Info("rate limiter disabled, using simple policy")
	}

	searcher := serper.New(serper.Config{
		APIKey:   cfg.Search.APIKey,
		Endpoint: cfg.Search.Endpoint,
		Timeout:  time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
	}, nil)
	analyzer := llm.New(llm.Config{
		APIKey:    cfg.Analysis.APIKey,
		BaseURL:   cfg.Analysis.BaseURL,
		Model:     cfg.Analysis.Model,
		MaxTokens: cfg.Analysis.MaxTokens,
		Timeout:   time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
	})
	if cfg.Search.APIKey == "" || cfg.Analysis.APIKey == "" {
		a.logger.Warn("API keys missing; jobs will fail until SERPER_API_KEY and ANTHROPIC_API_KEY are set")
	}

	deps := worker.Deps{
		Queue:     a.queue,
		Store:     a.jobStore,
		Searcher:  searcher,
		Fetcher:   fetcher,
		Headless:  headless,
		Detector:  detector.NewHeuristic(cfg.Headless.MinContentRunes),
		Extractor: extract.New(),
		Analyzer:  analyzer,
		Renderer:  report.New(),
		Limiter:   limiter,
		Archiver:  archiver,
		Events:    emitter,
		Clock:     clock,
	}
	workerCfg := worker.Config{
		MaxResults:  cfg.Worker.MaxResults,
		PageTimeout: time.Duration(cfg.Worker.PageTimeoutSeconds) * time.Second,
	}
	a.logger.Info("worker config",
		zap.Int("max_results", workerCfg.MaxResults),
		zap.Duration("page_timeout", workerCfg.PageTimeout),
		zap.String("model", analyzer.Model()),
	)

	runners := make([]dispatcher.Runner, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		runners = append(runners, worker.New(deps, workerCfg, a.logger.Named("worker").With(zap.Int("index", i))))
	}
	return dispatcher.New(a.queue, runners)
}
