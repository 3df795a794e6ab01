// Package redis implements the task queue on a Redis broker shared by worker processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// Defaults applied when Config fields are zero.
const (
	DefaultPrefix       = "relcrawl"
	DefaultPollInterval = time.Second
)

// Config describes the broker connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key the queue touches.
	Prefix string
	// PollInterval bounds each blocking pop so cancellation is observed.
	PollInterval time.Duration
}

// Queue implements crawler.TaskQueue on Redis lists, a hash and a set:
//
//	<prefix>:pending          list of JSON tasks, RPUSH / BLPOP
//	<prefix>:active           hash taskID -> JSON ActiveTask
//	<prefix>:revoked          set of task IDs
//	<prefix>:outcomes:<jobID> list of JSON outcomes
type Queue struct {
	client *redis.Client
	prefix string
	poll   time.Duration
	clock  crawler.Clock
	closed atomic.Bool
}

// Dial connects to cfg.Addr and verifies the broker answers.
func Dial(ctx context.Context, cfg Config, clock crawler.Clock) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return New(client, cfg, clock), nil
}

// New wraps an existing client.
func New(client *redis.Client, cfg Config, clock crawler.Clock) *Queue {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Queue{client: client, prefix: cfg.Prefix, poll: cfg.PollInterval, clock: clock}
}

func (q *Queue) pendingKey() string { return q.prefix + ":pending" }
func (q *Queue) activeKey() string  { return q.prefix + ":active" }
func (q *Queue) revokedKey() string { return q.prefix + ":revoked" }

func (q *Queue) outcomesKey(jobID string) string {
	return q.prefix + ":outcomes:" + jobID
}

func (q *Queue) now() time.Time {
	if q.clock == nil {
		return time.Now().UTC()
	}
	return q.clock.Now()
}

// Enqueue appends task to the pending list.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask) error {
	if q.closed.Load() {
		return crawler.ErrQueueClosed
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.RPush(ctx, q.pendingKey(), payload).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Dequeue blocks until a task is available and records it as active for workerID.
// Tasks revoked while still pending are discarded.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (crawler.CrawlTask, error) {
	for {
		if q.closed.Load() {
			return crawler.CrawlTask{}, crawler.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return crawler.CrawlTask{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		vals, err := q.client.BLPop(ctx, q.poll, q.pendingKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return crawler.CrawlTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.CrawlTask{}, fmt.Errorf("dequeue: %w", err)
		}
		var task crawler.CrawlTask
		if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
			return crawler.CrawlTask{}, fmt.Errorf("decode task: %w", err)
		}
		revoked, err := q.IsRevoked(ctx, task.ID)
		if err != nil {
			return crawler.CrawlTask{}, err
		}
		if revoked {
			continue
		}
		active, err := json.Marshal(crawler.ActiveTask{Task: task, WorkerID: workerID, Started: q.now()})
		if err != nil {
			return crawler.CrawlTask{}, fmt.Errorf("encode active task: %w", err)
		}
		if err := q.client.HSet(ctx, q.activeKey(), task.ID, active).Err(); err != nil {
			return crawler.CrawlTask{}, fmt.Errorf("mark task %s active: %w", task.ID, err)
		}
		return task, nil
	}
}

// Complete clears the active entry and appends the outcome in one transaction.
func (q *Queue) Complete(ctx context.Context, outcome crawler.TaskOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.activeKey(), outcome.TaskID)
		pipe.RPush(ctx, q.outcomesKey(outcome.JobID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", outcome.TaskID, err)
	}
	return nil
}

// WaitOutcome pops the next outcome for jobID, waiting up to timeout.
func (q *Queue) WaitOutcome(ctx context.Context, jobID string, timeout time.Duration) (crawler.TaskOutcome, bool, error) {
	vals, err := q.client.BLPop(ctx, timeout, q.outcomesKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return crawler.TaskOutcome{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return crawler.TaskOutcome{}, false, fmt.Errorf("wait outcome canceled: %w", ctx.Err())
		}
		return crawler.TaskOutcome{}, false, fmt.Errorf("wait outcome: %w", err)
	}
	var outcome crawler.TaskOutcome
	if err := json.Unmarshal([]byte(vals[1]), &outcome); err != nil {
		return crawler.TaskOutcome{}, false, fmt.Errorf("decode outcome: %w", err)
	}
	return outcome, true, nil
}

// Active lists claimed tasks, oldest first.
func (q *Queue) Active(ctx context.Context) ([]crawler.ActiveTask, error) {
	entries, err := q.client.HGetAll(ctx, q.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	out := make([]crawler.ActiveTask, 0, len(entries))
	for id, raw := range entries {
		var a crawler.ActiveTask
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode active task %s: %w", id, err)
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b crawler.ActiveTask) int {
		return a.Started.Compare(b.Started)
	})
	return out, nil
}

// Pending returns the length of the pending list.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return int(n), nil
}

// Revoke marks taskID revoked and removes it from the pending list and the
// active hash.
func (q *Queue) Revoke(ctx context.Context, taskID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, q.revokedKey(), taskID)
		pipe.HDel(ctx, q.activeKey(), taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke task %s: %w", taskID, err)
	}
	raws, err := q.client.LRange(ctx, q.pendingKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan pending tasks: %w", err)
	}
	for _, raw := range raws {
		var task crawler.CrawlTask
		if json.Unmarshal([]byte(raw), &task) != nil || task.ID != taskID {
			continue
		}
		if err := q.client.LRem(ctx, q.pendingKey(), 1, raw).Err(); err != nil {
			return fmt.Errorf("drop pending task %s: %w", taskID, err)
		}
	}
	return nil
}

// IsRevoked reports whether taskID is in the revoked set.
func (q *Queue) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	ok, err := q.client.SIsMember(ctx, q.revokedKey(), taskID).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked %s: %w", taskID, err)
	}
	return ok, nil
}

// Purge deletes every key under the prefix that the queue owns.
func (q *Queue) Purge(ctx context.Context) error {
	keys := []string{q.pendingKey(), q.activeKey(), q.revokedKey()}
	iter := q.client.Scan(ctx, 0, q.outcomesKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan outcome keys: %w", err)
	}
	if err := q.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("purge queue: %w", err)
	}
	return nil
}

// Close releases the client. Blocked Dequeue calls return after their
// current poll.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

var _ crawler.TaskQueue = (*Queue)(nil)
