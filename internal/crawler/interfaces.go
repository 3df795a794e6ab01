package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a blocking HTTP GET for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// LinkExtractor turns raw markup into page text plus absolute links with context.
type LinkExtractor interface {
	Extract(body []byte, baseURL string, contextWindow int) (Document, error)
}

// Scorer rates text against a target keyword.
type Scorer interface {
	// Score returns one similarity value per scorable token; an empty slice means no signal.
	Score(ctx context.Context, keyword, text string) ([]float64, error)
	// PageScore rates the relevance of a whole page's text.
	PageScore(keyword, fullText string) float64
}

// Gate decides whether a URL may be fetched and paces fetches per origin.
type Gate interface {
	IsAllowed(ctx context.Context, origin, userAgent, rawURL string) bool
	AwaitTurn(ctx context.Context, origin string) error
}

// ResultStore is the durable append-only sink for crawl results.
type ResultStore interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, result CrawlResult) (int64, error)
	List(ctx context.Context) ([]CrawlResult, error)
	Purge(ctx context.Context) error
	Close() error
}

// TaskQueue distributes crawl tasks to workers and collects their outcomes.
type TaskQueue interface {
	Enqueue(ctx context.Context, task CrawlTask) error
	// Dequeue blocks until a task is available and marks it active for workerID.
	Dequeue(ctx context.Context, workerID string) (CrawlTask, error)
	Complete(ctx context.Context, outcome TaskOutcome) error
	// WaitOutcome returns the next outcome for jobID, or ok=false after timeout.
	WaitOutcome(ctx context.Context, jobID string, timeout time.Duration) (TaskOutcome, bool, error)
	Active(ctx context.Context) ([]ActiveTask, error)
	Pending(ctx context.Context) (int, error)
	Revoke(ctx context.Context, taskID string) error
	IsRevoked(ctx context.Context, taskID string) (bool, error)
	Purge(ctx context.Context) error
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl, job and task IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// BlobStore writes an exported artifact and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
