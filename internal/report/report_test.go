package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/storage/memory"
)

func sampleRows() []crawler.CrawlResult {
	return []crawler.CrawlResult{
		{URL: "https://a.test/", Depth: 0, LinksFound: 3, RelevanceScore: 0.0123, ContextSnippet: `about "fishing" rods; lakes, rivers`},
		{URL: "https://a.test/l1", Depth: 1, LinksFound: 0, RelevanceScore: 0, ContextSnippet: ""},
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRows()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"URL", "Depth", "Links Found", "Relevance Score", "Context Snippet"}, records[0])
	require.Equal(t, []string{"https://a.test/", "0", "3", "0.0123", `about "fishing" rods; lakes, rivers`}, records[1])
	require.Equal(t, []string{"https://a.test/l1", "1", "0", "0", ""}, records[2])
}

func TestWriteCSVEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	require.Equal(t, "URL,Depth,Links Found,Relevance Score,Context Snippet\n", buf.String())
}

func TestWriteMarkdown(t *testing.T) {
	t.Parallel()

	rows := sampleRows()
	rows[0].ContextSnippet = strings.Repeat("word ", 60) + "a|b"
	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, rows))

	out := buf.String()
	require.Contains(t, out, "# Crawl Report")
	require.Contains(t, out, "2 pages crawled.")
	require.Contains(t, out, "Relevance Score")
	require.Contains(t, out, "https://a.test/l1")
	require.Contains(t, out, "…")
	require.NotContains(t, out, "a|b")
}

func TestFormatFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, FormatMarkdown, FormatFor("out/report.MD"))
	require.Equal(t, FormatMarkdown, FormatFor("gs://bucket/report.markdown"))
	require.Equal(t, FormatCSV, FormatFor("crawled_report.csv"))
	require.Equal(t, FormatCSV, FormatFor("report"))
}

func TestGenerateStoresReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewResultStore()
	for _, r := range sampleRows() {
		_, err := store.Insert(ctx, r)
		require.NoError(t, err)
	}
	blobs := memory.NewBlobStore()
	gen, err := New(store, blobs, Config{}, nil)
	require.NoError(t, err)

	uri, err := gen.Generate(ctx)
	require.NoError(t, err)
	require.Contains(t, uri, DefaultObject)

	body, contentType, ok := blobs.Object(DefaultObject)
	require.True(t, ok)
	require.Equal(t, "text/csv; charset=utf-8", contentType)
	require.True(t, strings.HasPrefix(string(body), "URL,Depth"))
	require.Equal(t, 3, strings.Count(string(body), "\n"))
}

func TestGenerateMarkdownContentType(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	gen, err := New(memory.NewResultStore(), blobs, Config{Object: "report.md"}, nil)
	require.NoError(t, err)
	_, err = gen.Generate(context.Background())
	require.NoError(t, err)

	_, contentType, ok := blobs.Object("report.md")
	require.True(t, ok)
	require.Equal(t, "text/markdown; charset=utf-8", contentType)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestGenerateSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	gen, err := New(memory.NewResultStore(), failingBlobs{}, Config{}, nil)
	require.NoError(t, err)
	_, err = gen.Generate(context.Background())
	require.ErrorContains(t, err, "bucket gone")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := New(memory.NewResultStore(), memory.NewBlobStore(), Config{Format: "xlsx"}, nil)
	require.Error(t, err)
}
