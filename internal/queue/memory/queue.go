// Package memory provides an in-process task queue for single-binary runs and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// Queue implements crawler.TaskQueue with FIFO pending tasks and per-job
// outcome lists. Blocking calls wait on a broadcast channel that is closed
// and replaced on every state change.
type Queue struct {
	clock crawler.Clock

	mu       sync.Mutex
	wake     chan struct{}
	closed   bool
	pending  []crawler.CrawlTask
	active   map[string]crawler.ActiveTask
	revoked  map[string]struct{}
	outcomes map[string][]crawler.TaskOutcome
}

// NewQueue constructs an empty queue. A nil clock uses time.Now.
func NewQueue(clock crawler.Clock) *Queue {
	q := &Queue{clock: clock, wake: make(chan struct{})}
	q.reset()
	return q
}

func (q *Queue) reset() {
	q.pending = nil
	q.active = make(map[string]crawler.ActiveTask)
	q.revoked = make(map[string]struct{})
	q.outcomes = make(map[string][]crawler.TaskOutcome)
}

// broadcast must be called with mu held.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) now() time.Time {
	if q.clock == nil {
		return time.Now()
	}
	return q.clock.Now()
}

// Enqueue appends task to the pending list.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	q.pending = append(q.pending, task)
	q.broadcast()
	return nil
}

// Dequeue pops the oldest pending task and marks it active for workerID.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (crawler.CrawlTask, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return crawler.CrawlTask{}, crawler.ErrQueueClosed
		}
		if len(q.pending) > 0 {
			task := q.pending[0]
			q.pending = q.pending[1:]
			q.active[task.ID] = crawler.ActiveTask{Task: task, WorkerID: workerID, Started: q.now()}
			q.broadcast()
			q.mu.Unlock()
			return task, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.CrawlTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wake:
		}
	}
}

// Complete clears the task's active entry and publishes its outcome.
func (q *Queue) Complete(ctx context.Context, outcome crawler.TaskOutcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("complete canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, outcome.TaskID)
	q.outcomes[outcome.JobID] = append(q.outcomes[outcome.JobID], outcome)
	q.broadcast()
	return nil
}

// WaitOutcome pops the next outcome recorded for jobID, waiting up to timeout.
func (q *Queue) WaitOutcome(ctx context.Context, jobID string, timeout time.Duration) (crawler.TaskOutcome, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if list := q.outcomes[jobID]; len(list) > 0 {
			outcome := list[0]
			q.outcomes[jobID] = list[1:]
			q.mu.Unlock()
			return outcome, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return crawler.TaskOutcome{}, false, crawler.ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.TaskOutcome{}, false, fmt.Errorf("wait outcome canceled: %w", ctx.Err())
		case <-timer.C:
			return crawler.TaskOutcome{}, false, nil
		case <-wake:
		}
	}
}

// Active lists claimed tasks, oldest first.
func (q *Queue) Active(context.Context) ([]crawler.ActiveTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]crawler.ActiveTask, 0, len(q.active))
	for _, a := range q.active {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b crawler.ActiveTask) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return strings.Compare(a.Task.ID, b.Task.ID)
	})
	return out, nil
}

// Pending returns the number of unclaimed tasks.
func (q *Queue) Pending(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// Revoke marks taskID revoked and drops it from the pending and active lists.
func (q *Queue) Revoke(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.revoked[taskID] = struct{}{}
	delete(q.active, taskID)
	q.pending = slices.DeleteFunc(q.pending, func(t crawler.CrawlTask) bool { return t.ID == taskID })
	q.broadcast()
	return nil
}

// IsRevoked reports whether taskID was revoked.
func (q *Queue) IsRevoked(_ context.Context, taskID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.revoked[taskID]
	return ok, nil
}

// Purge drops pending tasks, active entries, revocations and outcomes.
func (q *Queue) Purge(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reset()
	q.broadcast()
	return nil
}

// Close wakes every blocked caller with ErrQueueClosed. Closing twice is safe.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.broadcast()
	return nil
}

var _ crawler.TaskQueue = (*Queue)(nil)
