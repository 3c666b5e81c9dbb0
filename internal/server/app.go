// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-news-ingestor/internal/api"
	"github.com/JakeFAU/realtime-news-ingestor/internal/archive"
	"github.com/JakeFAU/realtime-news-ingestor/internal/clock"
	"github.com/JakeFAU/realtime-news-ingestor/internal/config"
	"github.com/JakeFAU/realtime-news-ingestor/internal/dedup/upstash"
	"github.com/JakeFAU/realtime-news-ingestor/internal/dispatcher"
	"github.com/JakeFAU/realtime-news-ingestor/internal/fetcher/newsapi"
	"github.com/JakeFAU/realtime-news-ingestor/internal/hash/sha256"
	"github.com/JakeFAU/realtime-news-ingestor/internal/id/uuid"
	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/logging"
	"github.com/JakeFAU/realtime-news-ingestor/internal/normalizer"
	"github.com/JakeFAU/realtime-news-ingestor/internal/pipeline"
	memorypublisher "github.com/JakeFAU/realtime-news-ingestor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-news-ingestor/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/realtime-news-ingestor/internal/queue/memory"
	queuePubSub "github.com/JakeFAU/realtime-news-ingestor/internal/queue/pubsub"
	"github.com/JakeFAU/realtime-news-ingestor/internal/quota"
	"github.com/JakeFAU/realtime-news-ingestor/internal/scheduler"
	gcsstorage "github.com/JakeFAU/realtime-news-ingestor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-news-ingestor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/realtime-news-ingestor/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-news-ingestor/internal/storage/postgres"
	"github.com/JakeFAU/realtime-news-ingestor/internal/telemetry"
	"github.com/JakeFAU/realtime-news-ingestor/internal/worker"
)

// Options override collaborators that are normally derived from config.
type Options struct {
	// Clock pins the processing time, e.g. for backfills. Defaults to UTC wall time.
	Clock ingest.Clock
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
}

type runLedger interface {
	ingest.RunStore
	ingest.RunReader
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  ingest.Clock
	ids    ingest.IDGenerator
	quota  *quota.Guard

	orchestrator *pipeline.Orchestrator
	worker       *worker.Worker
	runs         runLedger
	pgRuns       *pgstore.RunStore

	jobQueue  ingest.JobQueue
	memQueue  *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	consumer  *queuePubSub.Consumer
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	storage          *storage.Client
	pubsubClient     *pubsub.Client
	jobsPublisher    *pubsub.Publisher
	resultsPublisher *pubsub.Publisher
	tracerShutdown   func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
			Service:     cfg.Application.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  opts.Clock,
		ids:    uuid.New(""),
	}
	if app.clock == nil {
		app.clock = clock.NewSystem()
	}
	app.quota = quota.New(cfg.Quota.DailyLimit, app.clock)

	tp, err := telemetry.InitTracing(ctx, telemetry.Config{
		ServiceName:   cfg.Application.Name,
		Version:       cfg.Application.Version,
		ProjectID:     cfg.Application.ProjectID,
		ProjectNumber: cfg.Application.ProjectNumber,
		Region:        cfg.Application.Region,
		SampleRatio:   cfg.Application.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Bool("dedup_enabled", cfg.Dedup.URL != ""),
	)

	if err := app.build(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	rawStore, normalizedStore, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	if err := setupOrchestrator(a, rawStore, normalizedStore); err != nil {
		return err
	}
	if err := setupRunLedger(ctx, a); err != nil {
		return err
	}
	results, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	a.worker = worker.New(a.orchestrator, a.runs, results, a.ids, a.clock, a.logger.Named("worker"))

	if err := setupQueue(ctx, a); err != nil {
		return err
	}
	if err := setupScheduler(a); err != nil {
		return err
	}

	a.apiServer = api.NewServer(api.Deps{
		Handler: a.worker,
		Queue:   a.jobQueue,
		Runs:    a.runs,
		Quota:   a.quota,
		IDs:     a.ids,
		Clock:   a.clock,
		Ready:   a.ready,
	}, a.cfg, a.logger.Named("api"))
	return nil
}

func setupStorage(ctx context.Context, app *App) (ingest.BlobStore, ingest.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		raw, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: cfg.RawBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs raw store init failed: %w", err)
		}
		normalized, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: cfg.NormalizedBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs normalized store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend",
			zap.String("raw_bucket", cfg.RawBucket),
			zap.String("normalized_bucket", cfg.NormalizedBucket),
		)
		return raw, normalized, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.LocalDir))
		raw, err := localstorage.New(localstorage.Config{BaseDir: filepath.Join(cfg.LocalDir, cfg.RawBucket)})
		if err != nil {
			return nil, nil, fmt.Errorf("local raw store init failed: %w", err)
		}
		normalized, err := localstorage.New(localstorage.Config{BaseDir: filepath.Join(cfg.LocalDir, cfg.NormalizedBucket)})
		if err != nil {
			return nil, nil, fmt.Errorf("local normalized store init failed: %w", err)
		}
		return raw, normalized, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(cfg.RawBucket), memoryStorage.NewBlobStore(cfg.NormalizedBucket), nil
	}
}

func setupOrchestrator(app *App, rawStore, normalizedStore ingest.BlobStore) error {
	cfg := app.cfg
	fetch, err := newsapi.New(newsapi.Config{
		BaseURL:           cfg.Fetcher.BaseURL,
		APIKey:            cfg.Fetcher.APIKey,
		Timeout:           cfg.Fetcher.Timeout,
		RequestsPerSecond: cfg.Fetcher.RequestsPerSecond,
		UserAgent:         cfg.Fetcher.UserAgent,
	}, nil, app.logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("fetcher init failed: %w", err)
	}

	hasher := sha256.New()

	var dedup ingest.Deduplicator
	cacheCfg := upstash.Config{
		URL:      cfg.Dedup.URL,
		Token:    cfg.Dedup.Token,
		Timeout:  cfg.Dedup.Timeout,
		FailOpen: cfg.Dedup.FailOpen,
	}
	if cacheCfg.Enabled() {
		client, err := upstash.New(cacheCfg, nil, app.logger.Named("dedup"))
		if err != nil {
			return fmt.Errorf("dedup client init failed: %w", err)
		}
		dedup = client
		app.logger.Info("dedup cache enabled", zap.Bool("fail_open", cfg.Dedup.FailOpen))
	} else {
		app.logger.Warn("no dedup cache configured, every fetched record is treated as new")
	}

	store, err := archive.New(rawStore, normalizedStore, app.logger.Named("archive"))
	if err != nil {
		return fmt.Errorf("archive init failed: %w", err)
	}

	app.orchestrator, err = pipeline.New(
		fetch,
		hasher,
		dedup,
		normalizer.New(cfg.Fetcher.Provider, hasher, app.logger.Named("normalizer")),
		store,
		app.clock,
		pipeline.Config{DedupTTL: cfg.Dedup.TTL},
		app.logger.Named("pipeline"),
	)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	return nil
}

func setupRunLedger(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no DSN specified for database, keeping the run ledger in memory")
		app.runs = memoryStorage.NewRunStore()
		return nil
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
		AutoMigrate:     app.cfg.Database.AutoMigrate,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.pgRuns = store
	app.runs = store
	app.logger.Info("run store initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

func (a *App) ensurePubSub(ctx context.Context) (*pubsub.Client, error) {
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

func setupPublisher(ctx context.Context, app *App) (ingest.Publisher, error) {
	if app.cfg.PubSub.ResultsTopic == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no results topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := app.ensurePubSub(ctx)
	if err != nil {
		return nil, err
	}
	app.resultsPublisher = client.Publisher(app.cfg.PubSub.ResultsTopic)
	app.logger.Info("Pub/Sub results publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.ResultsTopic),
	)
	return gcppublisher.New(app.resultsPublisher, map[string]string{"service": app.cfg.Application.Name}), nil
}

func setupQueue(ctx context.Context, app *App) error {
	cfg := app.cfg
	if cfg.Queue.Backend == config.BackendPubSub {
		client, err := app.ensurePubSub(ctx)
		if err != nil {
			return err
		}
		app.jobsPublisher = client.Publisher(cfg.PubSub.JobsTopic)
		app.jobQueue = queuePubSub.NewJobQueue(app.jobsPublisher)
		app.consumer = queuePubSub.NewConsumer(
			client.Subscriber(cfg.PubSub.Subscription),
			app.worker,
			app.logger.Named("consumer"),
		)
		app.logger.Info("Pub/Sub job queue initialized",
			zap.String("topic", cfg.PubSub.JobsTopic),
			zap.String("subscription", cfg.PubSub.Subscription),
		)
		return nil
	}
	app.memQueue = queueMemory.NewQueue(cfg.Queue.Capacity, cfg.Queue.MaxAttempts)
	app.dispatch = dispatcher.New(app.memQueue, app.worker, dispatcher.Config{
		Consumers: cfg.Queue.Consumers,
		BatchSize: cfg.Queue.BatchSize,
	}, app.logger.Named("dispatcher"))
	app.jobQueue = app.dispatch
	app.logger.Info("in-memory job queue initialized",
		zap.Int("capacity", cfg.Queue.Capacity),
		zap.Int("consumers", cfg.Queue.Consumers),
	)
	return nil
}

func setupScheduler(app *App) error {
	if len(app.cfg.Schedule) == 0 {
		return nil
	}
	var err error
	app.scheduler, err = scheduler.New(app.cfg.Schedule, app.jobQueue, app.ids, app.clock, app.quota, app.logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Ingest runs one job synchronously through the worker so the run is
// recorded and published like a queued one.
func (a *App) Ingest(ctx context.Context, job ingest.Job) (ingest.ProcessingResult, error) {
	job = job.WithDefaults()
	if err := job.Validate(); err != nil {
		return ingest.ProcessingResult{}, err
	}
	if !a.quota.Allow() {
		return ingest.ProcessingResult{}, ingest.ErrQuotaExhausted
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = a.clock.Now()
	}
	id, err := a.ids.NewID()
	if err != nil {
		a.quota.Release()
		return ingest.ProcessingResult{}, fmt.Errorf("generate message id: %w", err)
	}
	body, err := json.Marshal(job)
	if err != nil {
		a.quota.Release()
		return ingest.ProcessingResult{}, fmt.Errorf("encode job: %w", err)
	}
	return a.worker.HandleMessage(ctx, ingest.Message{ID: id, Body: body, Attempt: 1})
}

// Run serves HTTP and consumes jobs until SIGINT/SIGTERM or ctx ends.
func (a *App) Run(ctx context.Context) error {
	return a.run(ctx, true)
}

// RunWorker consumes jobs (and runs the scheduler) without the HTTP surface.
func (a *App) RunWorker(ctx context.Context) error {
	return a.run(ctx, false)
}

func (a *App) run(ctx context.Context, serveHTTP bool) error {
	a.logger.Info("application started", zap.Bool("http", serveHTTP))
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	a.startConsumers(gctx, g)

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	var srv *http.Server
	if serveHTTP {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       a.cfg.Server.ReadTimeout,
			WriteTimeout:      a.cfg.Server.WriteTimeout,
		}
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	runErr := g.Wait()
	if closeErr := a.Close(shutdownCtx); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func (a *App) startConsumers(ctx context.Context, g *errgroup.Group) {
	if a.dispatch != nil {
		g.Go(func() error {
			a.logger.Info("dispatcher started")
			a.dispatch.Run(ctx)
			return nil
		})
	}
	if a.consumer != nil {
		g.Go(func() error {
			a.logger.Info("pubsub consumer started")
			if err := a.consumer.Run(ctx); err != nil {
				return fmt.Errorf("pubsub consumer: %w", err)
			}
			return nil
		})
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.pgRuns == nil {
		return nil
	}
	if err := a.pgRuns.Ping(ctx); err != nil {
		return fmt.Errorf("run store: %w", err)
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop(ctx)
	}
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.jobsPublisher != nil {
		a.jobsPublisher.Stop()
	}
	if a.resultsPublisher != nil {
		a.resultsPublisher.Stop()
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
	if a.runs != nil {
		a.runs.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
