// Package worker implements the task execution loop that runs crawl tasks off the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/metrics"
)

// Defaults applied when Config fields are zero.
const (
	DefaultRevokePoll      = 500 * time.Millisecond
	DefaultCompleteTimeout = 5 * time.Second
	dequeueBackoff         = time.Second
)

// Traverser crawls one task. *traversal.Controller satisfies it.
type Traverser interface {
	Crawl(ctx context.Context, wctx *crawler.WorkerContext, task crawler.CrawlTask) ([]crawler.CrawlResult, error)
}

// Config controls Worker behavior.
type Config struct {
	ID              string
	RevokePoll      time.Duration
	CompleteTimeout time.Duration
}

// Worker consumes crawl tasks and records an outcome for each.
type Worker struct {
	queue     crawler.TaskQueue
	traverser Traverser
	clock     crawler.Clock
	wctx      *crawler.WorkerContext
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The worker clock starts now.
func New(
	queue crawler.TaskQueue,
	traverser Traverser,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	if cfg.RevokePoll <= 0 {
		cfg.RevokePoll = DefaultRevokePoll
	}
	if cfg.CompleteTimeout <= 0 {
		cfg.CompleteTimeout = DefaultCompleteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		traverser: traverser,
		clock:     clock,
		wctx:      crawler.NewWorkerContext(cfg.ID, clock),
		cfg:       cfg,
		logger:    logger.Named("worker").With(zap.String("worker_id", cfg.ID)),
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	w.logger.Info("worker started")
	defer w.logger.Info("worker stopped")

	for {
		task, err := w.queue.Dequeue(ctx, w.cfg.ID)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", task.ID), zap.String("seed", task.SeedURL))
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task crawler.CrawlTask) {
	started := w.clock.Now()
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var revoked atomic.Bool
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		w.watchRevocation(taskCtx, task.ID, &revoked, cancel)
	}()

	results, err := w.traverser.Crawl(taskCtx, w.wctx, task)
	cancel()
	<-watchDone

	outcome := crawler.TaskOutcome{
		TaskID:   task.ID,
		JobID:    task.JobID,
		SeedURL:  task.SeedURL,
		WorkerID: w.cfg.ID,
		Pages:    len(results),
		Duration: w.clock.Now().Sub(started),
	}
	outcome.Status, outcome.Error = deriveStatus(ctx, revoked.Load(), err)
	metrics.ObserveTask(string(outcome.Status))

	// The outcome is recorded even when the worker itself is shutting down.
	completeCtx, completeCancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.CompleteTimeout)
	defer completeCancel()
	if err := w.queue.Complete(completeCtx, outcome); err != nil {
		w.logger.Error("record outcome failed", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	w.logger.Info("task finished",
		zap.String("task_id", task.ID),
		zap.String("seed", task.SeedURL),
		zap.String("status", string(outcome.Status)),
		zap.Int("pages", outcome.Pages),
		zap.Duration("duration", outcome.Duration),
	)
}

// watchRevocation polls the queue until ctx ends, canceling the task when it
// has been revoked.
func (w *Worker) watchRevocation(ctx context.Context, taskID string, revoked *atomic.Bool, cancel context.CancelFunc) {
	ticker := time.NewTicker(w.cfg.RevokePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.queue.IsRevoked(ctx, taskID)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Warn("revocation check failed", zap.String("task_id", taskID), zap.Error(err))
				}
				continue
			}
			if ok {
				w.logger.Warn("task revoked", zap.String("task_id", taskID))
				revoked.Store(true)
				cancel()
				return
			}
		}
	}
}

func deriveStatus(ctx context.Context, revoked bool, err error) (crawler.TaskStatus, string) {
	switch {
	case revoked:
		return crawler.TaskStatusRevoked, "task revoked"
	case err == nil:
		return crawler.TaskStatusSucceeded, ""
	case ctx.Err() != nil:
		return crawler.TaskStatusRevoked, fmt.Sprintf("worker stopped: %v", err)
	default:
		return crawler.TaskStatusFailed, err.Error()
	}
}
