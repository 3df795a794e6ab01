package crawler

import (
	"time"
)

// TaskStatus represents the terminal state recorded for a crawl task.
type TaskStatus string

// Task status values recorded by workers and reported by the dispatcher.
const (
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusRevoked    TaskStatus = "revoked"
	TaskStatusIncomplete TaskStatus = "incomplete"
)

// CrawlTask is one independently schedulable unit of work: a single seed.
type CrawlTask struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	CrawlID    string    `json:"crawl_id"`
	SeedURL    string    `json:"seed_url"`
	Keyword    string    `json:"keyword"`
	MaxDepth   int       `json:"max_depth"`
	MaxHorizon int       `json:"max_horizon"`
	Submitted  time.Time `json:"submitted_at"`
}

// CrawlResult is the record persisted for every successfully fetched page.
type CrawlResult struct {
	ID             int64         `json:"id,omitempty"`
	CrawlID        string        `json:"crawl_id,omitempty"`
	URL            string        `json:"url"`
	Depth          int           `json:"depth"`
	LinksFound     int           `json:"links_found"`
	RelevanceScore float64       `json:"relevance_score"`
	ContextSnippet string        `json:"context_snippet"`
	Duration       time.Duration `json:"duration"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// Candidate is a discovered outbound link awaiting ranking.
type Candidate struct {
	URL     string
	Context string
	Score   float64
}

// Link is an absolute hyperlink paired with the text surrounding it.
type Link struct {
	URL     string
	Context string
}

// Document is the extraction result for one fetched page.
type Document struct {
	Text  string
	Links []Link
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL       string
	UserAgent string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// TaskOutcome is recorded by a worker when it finishes (or abandons) a task.
type TaskOutcome struct {
	TaskID   string        `json:"task_id"`
	JobID    string        `json:"job_id"`
	SeedURL  string        `json:"seed_url"`
	WorkerID string        `json:"worker_id"`
	Status   TaskStatus    `json:"status"`
	Pages    int           `json:"pages"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ActiveTask describes a task currently claimed by a worker.
type ActiveTask struct {
	Task     CrawlTask `json:"task"`
	WorkerID string    `json:"worker_id"`
	Started  time.Time `json:"started_at"`
}
