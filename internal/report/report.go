// Package report exports the result store as a CSV or Markdown table.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"go.uber.org/zap"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// Format selects the report encoding.
type Format string

// Supported formats.
const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// DefaultObject is the report name used when none is configured.
const DefaultObject = "crawled_report.csv"

// Header is the column row of every report.
var Header = []string{"URL", "Depth", "Links Found", "Relevance Score", "Context Snippet"}

const markdownSnippetRunes = 120

// Config describes one report destination.
type Config struct {
	// Object is the path handed to the blob store.
	Object string
	// Format defaults from Object's extension: ".md" is Markdown, anything else CSV.
	Format Format
}

// Generator reads every stored result and writes the report to a blob store.
type Generator struct {
	store  crawler.ResultStore
	blobs  crawler.BlobStore
	cfg    Config
	logger *zap.Logger
}

// New constructs a Generator.
func New(store crawler.ResultStore, blobs crawler.BlobStore, cfg Config, logger *zap.Logger) (*Generator, error) {
	if cfg.Object == "" {
		cfg.Object = DefaultObject
	}
	if cfg.Format == "" {
		cfg.Format = FormatFor(cfg.Object)
	}
	if cfg.Format != FormatCSV && cfg.Format != FormatMarkdown {
		return nil, fmt.Errorf("unsupported report format %q", cfg.Format)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{store: store, blobs: blobs, cfg: cfg, logger: logger.Named("report")}, nil
}

// FormatFor infers the format from a file name.
func FormatFor(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatCSV
	}
}

// Generate renders the full result table and returns the stored report's URI.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	rows, err := g.store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("read results: %w", err)
	}
	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	switch g.cfg.Format {
	case FormatMarkdown:
		contentType = "text/markdown; charset=utf-8"
		err = WriteMarkdown(&buf, rows)
	default:
		err = WriteCSV(&buf, rows)
	}
	if err != nil {
		return "", err
	}
	uri, err := g.blobs.PutObject(ctx, g.cfg.Object, contentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	g.logger.Info("report written", zap.String("uri", uri), zap.Int("rows", len(rows)))
	return uri, nil
}

func record(r crawler.CrawlResult) []string {
	return []string{
		r.URL,
		strconv.Itoa(r.Depth),
		strconv.Itoa(r.LinksFound),
		strconv.FormatFloat(r.RelevanceScore, 'f', -1, 64),
		r.ContextSnippet,
	}
}

// WriteCSV writes the header followed by one row per result.
func WriteCSV(w io.Writer, rows []crawler.CrawlResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(record(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteMarkdown writes a titled Markdown table. Long snippets are shortened.
func WriteMarkdown(w io.Writer, rows []crawler.CrawlResult) error {
	md := markdown.NewMarkdown(w)
	md.H1("Crawl Report")
	md.PlainText("")
	md.PlainTextf("%d pages crawled.", len(rows))
	md.PlainText("")

	table := markdown.TableSet{Header: Header, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		cells := record(r)
		cells[4] = shorten(cells[4], markdownSnippetRunes)
		for i, c := range cells {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		table.Rows = append(table.Rows, cells)
	}
	md.Table(table)
	if err := md.Build(); err != nil {
		return fmt.Errorf("build markdown: %w", err)
	}
	return nil
}

func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
