package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *ResultStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewWithPool(mock, "crawl_results")
	require.NoError(t, err)
	return mock, store
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_results").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaFailure(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_results").WillReturnError(errors.New("permission denied"))

	err := store.EnsureSchema(context.Background())
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReturnsID(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	defer mock.Close()

	rec := crawler.CrawlResult{
		CrawlID:        "crawl-1",
		URL:            "https://example.com/",
		Depth:          1,
		LinksFound:     3,
		RelevanceScore: 0.125,
		ContextSnippet: "fish trip; river guide",
		Duration:       1500 * time.Millisecond,
		TotalDuration:  4 * time.Second,
	}

	mock.ExpectQuery("INSERT INTO crawl_results").
		WithArgs(rec.CrawlID, rec.URL, rec.Depth, rec.LinksFound, rec.RelevanceScore, rec.ContextSnippet, 1.5, 4.0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := store.Insert(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFailureIsStoreUnavailable(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO crawl_results").WillReturnError(errors.New("connection reset"))

	_, err := store.Insert(context.Background(), crawler.CrawlResult{URL: "https://example.com/"})
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}

func TestListScansRows(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{
		"id", "crawl_id", "url", "depth", "links_found",
		"relevance_score", "context_snippet", "duration_sec", "total_duration_sec",
	}).
		AddRow(int64(1), "c", "https://a.example/", 0, 2, 0.5, "a b c d", 0.25, 1.0).
		AddRow(int64(2), "c", "https://b.example/", 1, 0, 0.0, "", 0.5, 2.0)
	mock.ExpectQuery("SELECT id, crawl_id, url, .* FROM crawl_results ORDER BY id").WillReturnRows(rows)

	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://a.example/", got[0].URL)
	require.Equal(t, 250*time.Millisecond, got[0].Duration)
	require.Equal(t, 2*time.Second, got[1].TotalDuration)
	require.Equal(t, 1, got[1].Depth)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurge(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	defer mock.Close()

	mock.ExpectExec("TRUNCATE TABLE crawl_results RESTART IDENTITY").
		WillReturnResult(pgxmock.NewResult("TRUNCATE TABLE", 0))

	require.NoError(t, store.Purge(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "crawl_results")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad-name")
	require.Error(t, err)

	_, err = New(context.Background(), Config{})
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}
