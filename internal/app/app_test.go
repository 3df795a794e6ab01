package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/app"
	"github.com/JakeFAU/relevance-crawler/internal/config"
	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/dispatcher"
	"github.com/JakeFAU/relevance-crawler/internal/storage/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Store.Backend = config.BackendMemory
	cfg.Report.Destination = filepath.Join(dir, "out", "crawled_report.csv")
	cfg.Report.ProgressPath = filepath.Join(dir, "crawling_progress.txt")
	return cfg
}

func TestNewWithMemoryBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	a, err := app.New(ctx, cfg, "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Progress)
	assert.NotNil(t, a.NewTraverser())
	assert.Equal(t, "worker_x", a.NewWorker("worker_x").ID())

	sup, err := a.NewSupervisor()
	require.NoError(t, err)
	assert.IsType(t, &dispatcher.GoroutineSupervisor{}, sup)

	_, err = a.Store.Insert(ctx, crawler.CrawlResult{URL: "https://a.test/", Depth: 0})
	require.NoError(t, err)
	rep, err := a.NewReporter(ctx)
	require.NoError(t, err)
	uri, err := rep.Generate(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"), uri)

	data, err := os.ReadFile(cfg.Report.Destination)
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://a.test/")

	_, err = a.NewDispatcher(ctx)
	require.NoError(t, err)
}

func TestNewWithSQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "results.sqlite3")

	a, err := app.New(context.Background(), cfg, "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	assert.IsType(t, &sqlite.ResultStore{}, a.Store)
	assert.FileExists(t, cfg.Store.SQLite.Path)
}

func TestNewStoreUnavailable(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendPostgres
	cfg.Store.Postgres.DSN = ""

	_, err := app.New(context.Background(), cfg, "", zap.NewNop())
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}

func TestNewUnknownQueue(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Queue.Backend = "kafka"

	_, err := app.New(context.Background(), cfg, "", zap.NewNop())
	require.ErrorIs(t, err, crawler.ErrDispatch)
}

func TestProcessSupervisorForwardsConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Dispatch.Workers = config.WorkersProcess
	a, err := app.New(context.Background(), cfg, "crawl.yaml", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	sup, err := a.NewSupervisor()
	require.NoError(t, err)
	proc, ok := sup.(*dispatcher.ProcessSupervisor)
	require.True(t, ok)
	argv := proc.Command("worker_a")
	assert.Equal(t, []string{"--config", "crawl.yaml", "worker", "--id", "worker_a"}, argv[1:])
}

func TestReporterRejectsBadGCSURI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Report.Destination = "gs://bucket-only"
	a, err := app.New(context.Background(), cfg, "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	_, err = a.NewReporter(context.Background())
	require.Error(t, err)
}

func TestServeMetricsDisabledByDefault(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(t), "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	require.NoError(t, a.ServeMetrics(context.Background()))
}
