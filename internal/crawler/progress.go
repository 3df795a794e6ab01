package crawler

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ProgressHeader opens the progress log of every crawl run.
const ProgressHeader = "Starting Web Crawler..."

// ProgressLog writes an indented tree of visited URLs, four spaces per depth.
type ProgressLog struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

// NewProgressLog wraps w. A nil writer yields a log that discards output.
func NewProgressLog(w io.Writer) *ProgressLog {
	return &ProgressLog{w: w}
}

// OpenProgressLog appends to the file at path, creating it when missing.
// Worker processes append to the file the crawl command reset.
func OpenProgressLog(path string) (*ProgressLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	return &ProgressLog{w: f, f: f}, nil
}

// Reset empties the backing file, if any, and writes ProgressHeader.
func (p *ProgressLog) Reset() error {
	if p == nil || p.w == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.f != nil {
		if err := p.f.Truncate(0); err != nil {
			return fmt.Errorf("reset progress: %w", err)
		}
	}
	if _, err := fmt.Fprintln(p.w, ProgressHeader); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	return nil
}

// Record writes one visited URL at the given depth.
func (p *ProgressLog) Record(url string, depth int) error {
	if p == nil || p.w == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintf(p.w, "%s%s\n", strings.Repeat("    ", depth), url); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// Close closes the underlying file, if any.
func (p *ProgressLog) Close() error {
	if p == nil || p.f == nil {
		return nil
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("close progress log: %w", err)
	}
	return nil
}
