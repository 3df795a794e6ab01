package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// JobResult is the per-seed view of one submitted job.
type JobResult struct {
	JobID    string
	CrawlID  string
	Outcomes []crawler.TaskOutcome
	// ReportURI is set when the report step ran.
	ReportURI string
}

// Incomplete returns the seeds whose tasks never reported an outcome.
func (r JobResult) Incomplete() []string {
	var seeds []string
	for _, o := range r.Outcomes {
		if o.Status == crawler.TaskStatusIncomplete {
			seeds = append(seeds, o.SeedURL)
		}
	}
	return seeds
}

// Outcome returns the outcome recorded for seed.
func (r JobResult) Outcome(seed string) (crawler.TaskOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.SeedURL == seed {
			return o, true
		}
	}
	return crawler.TaskOutcome{}, false
}

// Pages sums the pages crawled across every seed.
func (r JobResult) Pages() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Pages
	}
	return n
}

// JobHandle is the join barrier for one submitted job.
type JobHandle struct {
	JobID   string
	CrawlID string

	tasks   []crawler.CrawlTask
	queue   crawler.TaskQueue
	workers <-chan struct{}
	poll    time.Duration
}

// Tasks returns the submitted tasks in submission order.
func (h *JobHandle) Tasks() []crawler.CrawlTask {
	return append([]crawler.CrawlTask(nil), h.tasks...)
}

// Await blocks until every task has an outcome. It returns early once every
// worker has exited, marking the remaining seeds incomplete, or when ctx
// ends, in which case the partial result accompanies ctx's error.
func (h *JobHandle) Await(ctx context.Context) (JobResult, error) {
	got := make(map[string]crawler.TaskOutcome, len(h.tasks))
	workersGone := false
	for len(got) < len(h.tasks) {
		outcome, ok, err := h.queue.WaitOutcome(ctx, h.JobID, h.poll)
		if err != nil {
			if ctx.Err() != nil {
				return h.result(got), ctx.Err()
			}
			return h.result(got), fmt.Errorf("%w: await job %s: %w", crawler.ErrDispatch, h.JobID, err)
		}
		if ok {
			got[outcome.TaskID] = outcome
			continue
		}
		if workersGone {
			return h.result(got), nil
		}
		// One more poll after the last worker exits picks up outcomes it
		// recorded just before leaving.
		select {
		case <-h.workers:
			workersGone = true
		default:
		}
	}
	return h.result(got), nil
}

func (h *JobHandle) result(got map[string]crawler.TaskOutcome) JobResult {
	res := JobResult{JobID: h.JobID, CrawlID: h.CrawlID, Outcomes: make([]crawler.TaskOutcome, 0, len(h.tasks))}
	for _, t := range h.tasks {
		outcome, ok := got[t.ID]
		if !ok {
			outcome = crawler.TaskOutcome{
				TaskID:  t.ID,
				JobID:   t.JobID,
				SeedURL: t.SeedURL,
				Status:  crawler.TaskStatusIncomplete,
			}
		}
		res.Outcomes = append(res.Outcomes, outcome)
	}
	return res
}

// missing returns the IDs of tasks without an outcome in res.
func missing(res JobResult) []string {
	var ids []string
	for _, o := range res.Outcomes {
		if o.Status == crawler.TaskStatusIncomplete {
			ids = append(ids, o.TaskID)
		}
	}
	return ids
}
