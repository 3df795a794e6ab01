package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

func TestResultStoreAppendListPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewResultStore()
	require.NoError(t, store.EnsureSchema(ctx))

	id1, err := store.Insert(ctx, crawler.CrawlResult{URL: "https://a.example/", Depth: 0})
	require.NoError(t, err)
	id2, err := store.Insert(ctx, crawler.CrawlResult{URL: "https://b.example/", Depth: 1})
	require.NoError(t, err)
	require.Less(t, id1, id2)

	rows, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "https://a.example/", rows[0].URL)
	require.Equal(t, id2, rows[1].ID)

	rows[0].URL = "mutated"
	again, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://a.example/", again[0].URL)

	require.NoError(t, store.Purge(ctx))
	rows, err = store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.NoError(t, store.Close())
}

func TestResultStoreInsertError(t *testing.T) {
	t.Parallel()

	store := NewResultStore()
	store.InsertErr = errors.New("disk full")
	_, err := store.Insert(context.Background(), crawler.CrawlResult{URL: "https://a.example/"})
	require.EqualError(t, err, "disk full")
}
