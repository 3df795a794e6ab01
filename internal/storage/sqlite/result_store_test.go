package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

func openTestStore(t *testing.T, path string) *ResultStore {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func TestInsertListPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "results.sqlite3"))

	first := crawler.CrawlResult{
		CrawlID:        "crawl-1",
		URL:            "https://example.com/",
		Depth:          0,
		LinksFound:     2,
		RelevanceScore: 0.0312,
		ContextSnippet: "fish trip river; guide book shop",
		Duration:       250 * time.Millisecond,
		TotalDuration:  time.Second,
	}
	id1, err := store.Insert(ctx, first)
	require.NoError(t, err)
	id2, err := store.Insert(ctx, crawler.CrawlResult{URL: "https://example.com/a", Depth: 1})
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)

	rows, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	first.ID = id1
	require.Equal(t, first, rows[0])
	require.Equal(t, "https://example.com/a", rows[1].URL)

	require.NoError(t, store.Purge(ctx))
	rows, err = store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestEnsureSchemaIsIdempotentAcrossOpens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "results.sqlite3")

	store, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = store.Insert(ctx, crawler.CrawlResult{URL: "https://example.com/"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := openTestStore(t, path)
	require.Equal(t, path, reopened.Path())
	rows, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestConcurrentWritersShareFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.sqlite3")
	a := openTestStore(t, path)
	b := openTestStore(t, path)

	var wg sync.WaitGroup
	for _, store := range []*ResultStore{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_, err := store.Insert(ctx, crawler.CrawlResult{URL: "https://example.com/"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	rows, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 40)
}

func TestOpenRejectsBadTable(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "x.db"), Table: "bad;name"})
	require.Error(t, err)
}
