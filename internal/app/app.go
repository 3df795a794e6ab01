// Package app initializes and holds long-lived services for the crawler
// commands, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/clock/system"
	"github.com/JakeFAU/relevance-crawler/internal/config"
	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/dispatcher"
	"github.com/JakeFAU/relevance-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/relevance-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/relevance-crawler/internal/id/uuid"
	"github.com/JakeFAU/relevance-crawler/internal/metrics"
	queueMemory "github.com/JakeFAU/relevance-crawler/internal/queue/memory"
	queueRedis "github.com/JakeFAU/relevance-crawler/internal/queue/redis"
	"github.com/JakeFAU/relevance-crawler/internal/relevance"
	"github.com/JakeFAU/relevance-crawler/internal/report"
	"github.com/JakeFAU/relevance-crawler/internal/robots"
	"github.com/JakeFAU/relevance-crawler/internal/storage/gcs"
	"github.com/JakeFAU/relevance-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/relevance-crawler/internal/storage/memory"
	"github.com/JakeFAU/relevance-crawler/internal/storage/postgres"
	"github.com/JakeFAU/relevance-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/relevance-crawler/internal/traversal"
	"github.com/JakeFAU/relevance-crawler/internal/worker"
)

// App holds the shared services of one command invocation.
type App struct {
	Config config.Config
	// ConfigPath is forwarded to worker processes.
	ConfigPath string
	Logger     *zap.Logger
	Store      crawler.ResultStore
	Queue      crawler.TaskQueue
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Progress   *crawler.ProgressLog

	closers []func() error
}

// New opens the result store and the task queue. A store that cannot be
// opened or initialised yields an error wrapping crawler.ErrStoreUnavailable.
func New(ctx context.Context, cfg config.Config, configPath string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
		Clock:      system.New(),
		IDs:        uuid.New(),
	}
	logger.Info("initializing application services",
		zap.String("store", cfg.Store.Backend),
		zap.String("queue", cfg.Queue.Backend),
	)

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("%w: %w", crawler.ErrStoreUnavailable, err)
	}

	queue, err := openQueue(ctx, cfg.Queue, a.Clock)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Queue = queue
	a.closers = append(a.closers, queue.Close)

	if cfg.Report.ProgressPath != "" {
		progress, err := crawler.OpenProgressLog(cfg.Report.ProgressPath)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Progress = progress
		a.closers = append(a.closers, progress.Close)
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (crawler.ResultStore, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLite.Path, Table: cfg.Table, BusyTimeout: cfg.SQLite.BusyTimeout})
	case config.BackendPostgres:
		return postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
	case config.BackendMemory:
		return memoryStorage.NewResultStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", crawler.ErrStoreUnavailable, cfg.Backend)
	}
}

func openQueue(ctx context.Context, cfg config.QueueConfig, clock crawler.Clock) (crawler.TaskQueue, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return queueMemory.NewQueue(clock), nil
	case config.BackendRedis:
		q, err := queueRedis.Dial(ctx, queueRedis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", crawler.ErrDispatch, err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("%w: unknown queue backend %q", crawler.ErrDispatch, cfg.Backend)
	}
}

// NewTraverser builds a traversal controller with its own robots cache.
func (a *App) NewTraverser() *traversal.Controller {
	cfg := a.Config
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.HTTP.Timeout,
		MaxBodySize: cfg.HTTP.MaxBodyBytes,
	})
	gate := robots.New(robots.Config{
		Respect:      cfg.Robots.Respect,
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.Robots.Timeout,
		DefaultDelay: cfg.Robots.DefaultDelay,
	}, nil, a.Logger)
	return traversal.New(traversal.Config{
		UserAgent:          cfg.Crawler.UserAgent,
		ContextWindow:      cfg.Crawler.ContextWindow,
		MinContextWords:    cfg.Crawler.MinContextWords,
		ScoringConcurrency: cfg.Crawler.ScoringConcurrency,
	}, fetcher, extract.New(), relevance.New(), gate, a.Store, a.Progress, a.Logger)
}

// NewWorker builds the worker with the given ID.
func (a *App) NewWorker(id string) *worker.Worker {
	return worker.New(a.Queue, a.NewTraverser(), a.Clock, worker.Config{
		ID:         id,
		RevokePoll: a.Config.Dispatch.RevokePoll,
	}, a.Logger)
}

// NewSupervisor returns the supervisor selected by dispatch.workers.
func (a *App) NewSupervisor() (dispatcher.Supervisor, error) {
	if a.Config.Dispatch.Workers == config.WorkersProcess {
		var args []string
		if a.ConfigPath != "" {
			args = []string{"--config", a.ConfigPath}
		}
		return dispatcher.NewProcessSupervisor(dispatcher.ProcessConfig{
			Args:        args,
			StopTimeout: a.Config.Dispatch.StopTimeout,
		}, a.Logger)
	}
	return dispatcher.NewGoroutineSupervisor(func(id string) (dispatcher.Runner, error) {
		return a.NewWorker(id), nil
	}, a.Logger), nil
}

// NewReporter writes to report.destination: a gs://bucket/object URI or a
// local file path.
func (a *App) NewReporter(ctx context.Context) (*report.Generator, error) {
	dest := a.Config.Report.Destination
	var (
		blobs  crawler.BlobStore
		object string
	)
	if strings.HasPrefix(dest, "gs://") {
		bucket, name, err := gcs.ParseURI(dest)
		if err != nil {
			return nil, err
		}
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: bucket})
		if err != nil {
			return nil, err
		}
		blobs, object = store, name
	} else {
		store, err := local.New(local.Config{BaseDir: filepath.Dir(dest)})
		if err != nil {
			return nil, fmt.Errorf("init report directory: %w", err)
		}
		blobs, object = store, filepath.Base(dest)
	}
	return report.New(a.Store, blobs, report.Config{Object: object, Format: report.Format(a.Config.Report.Format)}, a.Logger)
}

// NewDispatcher wires the supervisor and reporter into a Dispatcher.
func (a *App) NewDispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	sup, err := a.NewSupervisor()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrDispatch, err)
	}
	rep, err := a.NewReporter(ctx)
	if err != nil {
		return nil, err
	}
	return dispatcher.New(a.Queue, a.Store, sup, rep, a.IDs, a.Clock, dispatcher.Config{
		StartupGrace:    a.Config.Dispatch.StartupGrace,
		OutcomePoll:     a.Config.Dispatch.OutcomePoll,
		ShutdownTimeout: a.Config.Dispatch.ShutdownTimeout,
	}, a.Logger), nil
}

// ServeMetrics starts the /metrics endpoint when metrics.addr is set. It
// stops when ctx ends.
func (a *App) ServeMetrics(ctx context.Context) error {
	if a.Config.Metrics.Addr == "" {
		return nil
	}
	srv, err := metrics.Listen(a.Config.Metrics.Addr, a.Logger)
	if err != nil {
		return err
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			a.Logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Close releases every service in reverse order of creation.
func (a *App) Close() error {
	a.Logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
