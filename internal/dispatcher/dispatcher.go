// Package dispatcher maps seeds to crawl tasks, supervises the worker pool
// and joins the results.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// Defaults applied when Config fields are zero.
const (
	DefaultStartupGrace    = 5 * time.Second
	DefaultOutcomePoll     = time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config tunes the dispatch lifecycle.
type Config struct {
	StartupGrace    time.Duration
	OutcomePoll     time.Duration
	ShutdownTimeout time.Duration
}

// Request describes one crawl run.
type Request struct {
	Seeds      []string
	Keyword    string
	MaxDepth   int
	MaxHorizon int
}

// Reporter renders the result store after a job completes and returns the
// report location.
type Reporter interface {
	Generate(ctx context.Context) (string, error)
}

// Dispatcher fans seeds out to workers through the task queue.
type Dispatcher struct {
	queue      crawler.TaskQueue
	store      crawler.ResultStore
	supervisor Supervisor
	reporter   Reporter
	ids        crawler.IDGenerator
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New creates a Dispatcher. supervisor and reporter may be nil when only
// Purge and Submit are used.
func New(
	queue crawler.TaskQueue,
	store crawler.ResultStore,
	supervisor Supervisor,
	reporter Reporter,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.StartupGrace < 0 {
		cfg.StartupGrace = 0
	}
	if cfg.OutcomePoll <= 0 {
		cfg.OutcomePoll = DefaultOutcomePoll
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:      queue,
		store:      store,
		supervisor: supervisor,
		reporter:   reporter,
		ids:        ids,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("dispatcher"),
	}
}

// Plan builds one task per seed under a fresh crawl ID.
func (d *Dispatcher) Plan(req Request) ([]crawler.CrawlTask, error) {
	if len(req.Seeds) == 0 {
		return nil, errors.New("at least one seed is required")
	}
	crawlID, err := d.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate crawl id: %w", err)
	}
	now := d.clock.Now()
	tasks := make([]crawler.CrawlTask, 0, len(req.Seeds))
	for _, seed := range req.Seeds {
		id, err := d.ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate task id: %w", err)
		}
		tasks = append(tasks, crawler.CrawlTask{
			ID:         id,
			CrawlID:    crawlID,
			SeedURL:    seed,
			Keyword:    req.Keyword,
			MaxDepth:   req.MaxDepth,
			MaxHorizon: req.MaxHorizon,
			Submitted:  now,
		})
	}
	return tasks, nil
}

// Purge clears queued work, outcomes, revocations and stored results.
func (d *Dispatcher) Purge(ctx context.Context) error {
	var errs []error
	if err := d.queue.Purge(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%w: purge queue: %w", crawler.ErrDispatch, err))
	}
	if d.store != nil {
		if err := d.store.Purge(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%w: purge results: %w", crawler.ErrStoreUnavailable, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	d.logger.Info("purged queue and result store")
	return nil
}

// Submit enqueues every task under one job ID and returns the join handle.
// Tasks are stamped with the job ID.
func (d *Dispatcher) Submit(ctx context.Context, tasks []crawler.CrawlTask) (*JobHandle, error) {
	jobID, err := d.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	handle := &JobHandle{
		JobID: jobID,
		queue: d.queue,
		poll:  d.cfg.OutcomePoll,
		tasks: make([]crawler.CrawlTask, 0, len(tasks)),
	}
	if d.supervisor != nil {
		handle.workers = d.supervisor.Done()
	}
	for _, t := range tasks {
		t.JobID = jobID
		handle.CrawlID = t.CrawlID
		if err := d.queue.Enqueue(ctx, t); err != nil {
			return handle, fmt.Errorf("%w: enqueue %s: %w", crawler.ErrDispatch, t.SeedURL, err)
		}
		handle.tasks = append(handle.tasks, t)
	}
	d.logger.Info("tasks for crawling have been enqueued", zap.String("job_id", jobID), zap.Int("tasks", len(tasks)))
	return handle, nil
}

// Run purges, starts one worker per task, submits after the startup grace
// period and waits for the join. Shutdown always runs, including on
// interrupt: workers are stopped and every unfinished task of the job is
// revoked. The report is generated only when the join completes.
func (d *Dispatcher) Run(ctx context.Context, tasks []crawler.CrawlTask) (JobResult, error) {
	if d.supervisor == nil {
		return JobResult{}, fmt.Errorf("%w: no supervisor configured", crawler.ErrDispatch)
	}
	if err := d.Purge(ctx); err != nil {
		return JobResult{}, err
	}

	handle, result, runErr := d.run(ctx, tasks)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ShutdownTimeout)
	defer cancel()
	if err := d.shutdown(shutdownCtx, handle, result); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return result, runErr
	}

	if d.reporter != nil {
		uri, err := d.reporter.Generate(ctx)
		if err != nil {
			return result, fmt.Errorf("generate report: %w", err)
		}
		result.ReportURI = uri
		d.logger.Info("report saved", zap.String("uri", uri))
	}
	d.logger.Info("crawling process complete",
		zap.String("job_id", result.JobID),
		zap.Int("pages", result.Pages()),
		zap.Strings("incomplete", result.Incomplete()),
	)
	return result, nil
}

func (d *Dispatcher) run(ctx context.Context, tasks []crawler.CrawlTask) (*JobHandle, JobResult, error) {
	if err := d.supervisor.Start(ctx, tasks); err != nil {
		return nil, JobResult{}, fmt.Errorf("%w: start workers: %w", crawler.ErrDispatch, err)
	}

	if d.cfg.StartupGrace > 0 {
		timer := time.NewTimer(d.cfg.StartupGrace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, JobResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	handle, err := d.Submit(ctx, tasks)
	if err != nil {
		return handle, JobResult{}, err
	}
	result, err := handle.Await(ctx)
	return handle, result, err
}

// shutdown stops every worker, then revokes active tasks and the job's
// unfinished tasks so none outlives the run.
func (d *Dispatcher) shutdown(ctx context.Context, handle *JobHandle, result JobResult) error {
	d.logger.Info("stopping all workers")
	var errs []error
	if err := d.supervisor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop workers: %w", err))
	}

	d.logger.Info("terminating any remaining active tasks")
	revoke := make(map[string]struct{})
	active, err := d.queue.Active(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list active tasks: %w", err))
	}
	for _, a := range active {
		revoke[a.Task.ID] = struct{}{}
	}
	if handle != nil {
		if result.JobID == "" {
			result = handle.result(nil)
		}
		for _, id := range missing(result) {
			revoke[id] = struct{}{}
		}
	}
	for id := range revoke {
		d.logger.Info("revoking task", zap.String("task_id", id))
		if err := d.queue.Revoke(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("revoke %s: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: shutdown: %w", crawler.ErrDispatch, err)
	}
	return nil
}
