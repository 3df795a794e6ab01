package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/queue/memory"
	storemem "github.com/JakeFAU/relevance-crawler/internal/storage/memory"
	"github.com/JakeFAU/relevance-crawler/internal/worker"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

// storingTraverser persists one result per task, or blocks until canceled
// when block is set.
type storingTraverser struct {
	store   crawler.ResultStore
	block   bool
	started chan struct{}
	once    sync.Once
}

func (s *storingTraverser) Crawl(ctx context.Context, _ *crawler.WorkerContext, task crawler.CrawlTask) ([]crawler.CrawlResult, error) {
	if s.block {
		s.once.Do(func() { close(s.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := crawler.CrawlResult{CrawlID: task.CrawlID, URL: task.SeedURL}
	if _, err := s.store.Insert(ctx, r); err != nil {
		return nil, err
	}
	return []crawler.CrawlResult{r}, nil
}

type fakeReporter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeReporter) Generate(context.Context) (string, error) {
	f.calls.Add(1)
	return "file:///tmp/crawled_report.csv", f.err
}

// exitingRunner returns immediately, like a worker process that crashed.
type exitingRunner struct{}

func (exitingRunner) Run(context.Context) {}

type fixture struct {
	queue    *memory.Queue
	store    *storemem.ResultStore
	reporter *fakeReporter
	trav     *storingTraverser
}

func newFixture() *fixture {
	store := storemem.NewResultStore()
	return &fixture{
		queue:    memory.NewQueue(nil),
		store:    store,
		reporter: &fakeReporter{},
		trav:     &storingTraverser{store: store, started: make(chan struct{})},
	}
}

func (f *fixture) workerFactory(id string) (Runner, error) {
	return worker.New(f.queue, f.trav, fixedClock{}, worker.Config{ID: id, RevokePoll: 10 * time.Millisecond}, zap.NewNop()), nil
}

func (f *fixture) dispatcher(sup Supervisor) *Dispatcher {
	return New(f.queue, f.store, sup, f.reporter, &seqIDs{}, fixedClock{}, Config{
		StartupGrace: time.Millisecond,
		OutcomePoll:  20 * time.Millisecond,
	}, zap.NewNop())
}

func plan(t *testing.T, d *Dispatcher, seeds ...string) []crawler.CrawlTask {
	t.Helper()
	tasks, err := d.Plan(Request{Seeds: seeds, Keyword: "crawler", MaxDepth: 1, MaxHorizon: 2})
	require.NoError(t, err)
	return tasks
}

func requireQueueDrained(t *testing.T, q crawler.TaskQueue) {
	t.Helper()
	active, err := q.Active(context.Background())
	require.NoError(t, err)
	require.Empty(t, active)
	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Zero(t, pending)
}

func TestPlanBuildsOneTaskPerSeed(t *testing.T) {
	t.Parallel()

	d := newFixture().dispatcher(nil)
	tasks := plan(t, d, "https://a.test/", "https://b.test/")
	require.Len(t, tasks, 2)
	require.Equal(t, tasks[0].CrawlID, tasks[1].CrawlID)
	require.NotEqual(t, tasks[0].ID, tasks[1].ID)
	require.Equal(t, "crawler", tasks[1].Keyword)
	require.Equal(t, 2, tasks[1].MaxHorizon)

	_, err := d.Plan(Request{})
	require.Error(t, err)
}

func TestRunJoinsEverySeed(t *testing.T) {
	t.Parallel()

	f := newFixture()
	_, err := f.store.Insert(context.Background(), crawler.CrawlResult{URL: "https://stale.test/"})
	require.NoError(t, err)

	d := f.dispatcher(NewGoroutineSupervisor(f.workerFactory, zap.NewNop()))
	tasks := plan(t, d, "https://a.test/", "https://b.test/")

	result, err := d.Run(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	for _, o := range result.Outcomes {
		require.Equal(t, crawler.TaskStatusSucceeded, o.Status, o.SeedURL)
	}
	require.Empty(t, result.Incomplete())
	require.Equal(t, 2, result.Pages())
	require.Equal(t, "file:///tmp/crawled_report.csv", result.ReportURI)
	require.EqualValues(t, 1, f.reporter.calls.Load())

	rows, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2, "stale rows are purged before the run")
	requireQueueDrained(t, f.queue)

	o, ok := result.Outcome("https://b.test/")
	require.True(t, ok)
	require.Equal(t, result.JobID, o.JobID)
}

func TestRunInterruptStillShutsDown(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.trav.block = true
	sup := NewGoroutineSupervisor(f.workerFactory, zap.NewNop())
	d := f.dispatcher(sup)
	tasks := plan(t, d, "https://a.test/", "https://b.test/", "https://c.test/")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.trav.started
		cancel()
	}()

	result, err := d.Run(ctx, tasks)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.reporter.calls.Load())
	require.Len(t, result.Outcomes, 3)

	select {
	case <-sup.Done():
	default:
		t.Fatal("workers outlived the run")
	}
	requireQueueDrained(t, f.queue)
}

func TestRunReportsCrashedWorkersAsIncomplete(t *testing.T) {
	t.Parallel()

	f := newFixture()
	sup := NewGoroutineSupervisor(func(string) (Runner, error) { return exitingRunner{}, nil }, zap.NewNop())
	d := f.dispatcher(sup)
	tasks := plan(t, d, "https://a.test/", "https://b.test/")

	result, err := d.Run(context.Background(), tasks)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://a.test/", "https://b.test/"}, result.Incomplete())
	requireQueueDrained(t, f.queue)

	for _, task := range tasks {
		revoked, err := f.queue.IsRevoked(context.Background(), task.ID)
		require.NoError(t, err)
		require.True(t, revoked)
	}
}

func TestRunWorkerStartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	sup := NewGoroutineSupervisor(func(string) (Runner, error) { return nil, errors.New("no slots") }, zap.NewNop())
	d := f.dispatcher(sup)

	_, err := d.Run(context.Background(), plan(t, d, "https://a.test/"))
	require.ErrorIs(t, err, crawler.ErrDispatch)
	require.Zero(t, f.reporter.calls.Load())
}

func TestRunRequiresSupervisor(t *testing.T) {
	t.Parallel()

	d := newFixture().dispatcher(nil)
	_, err := d.Run(context.Background(), nil)
	require.ErrorIs(t, err, crawler.ErrDispatch)
}

func TestPurgeIsSafeWithoutWorkers(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.queue.Enqueue(ctx, crawler.CrawlTask{ID: "old"}))
	_, err := f.store.Insert(ctx, crawler.CrawlResult{URL: "https://old.test/"})
	require.NoError(t, err)

	require.NoError(t, f.dispatcher(nil).Purge(ctx))
	rows, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
	requireQueueDrained(t, f.queue)
}

func TestSubmitAwaitWithManualWorker(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	d := f.dispatcher(nil)
	handle, err := d.Submit(ctx, plan(t, d, "https://a.test/"))
	require.NoError(t, err)
	require.Len(t, handle.Tasks(), 1)
	require.Equal(t, handle.JobID, handle.Tasks()[0].JobID)

	runner, err := f.workerFactory("worker_manual")
	require.NoError(t, err)
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go runner.Run(wctx)

	result, err := handle.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusSucceeded, result.Outcomes[0].Status)
	require.Equal(t, "worker_manual", result.Outcomes[0].WorkerID)
}

func TestAwaitHonorsContext(t *testing.T) {
	t.Parallel()

	f := newFixture()
	d := f.dispatcher(nil)
	handle, err := d.Submit(context.Background(), plan(t, d, "https://a.test/"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result, err := handle.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []string{"https://a.test/"}, result.Incomplete())
}

func TestWorkerIDs(t *testing.T) {
	t.Parallel()

	ids := WorkerIDs([]crawler.CrawlTask{
		{SeedURL: "https://en.wikipedia.org/wiki/Web_crawler"},
		{SeedURL: "https://www.example.com"},
		{SeedURL: "https://www.example.com"},
	})
	require.Equal(t, []string{
		"worker_https_en.wikipedia.org_wiki_Web_crawler",
		"worker_https_www.example.com",
		"worker_https_www.example.com_2",
	}, ids)
}
