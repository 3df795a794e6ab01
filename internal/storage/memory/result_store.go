// Package memory provides in-process stores for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// ResultStore keeps crawl results in insertion order.
type ResultStore struct {
	mu      sync.RWMutex
	results []crawler.CrawlResult
	nextID  int64
	// InsertErr, when set, is returned by every Insert.
	InsertErr error
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{}
}

// EnsureSchema is a no-op.
func (s *ResultStore) EnsureSchema(context.Context) error {
	return nil
}

// Insert appends result and returns its assigned ID.
func (s *ResultStore) Insert(_ context.Context, result crawler.CrawlResult) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return 0, s.InsertErr
	}
	s.nextID++
	result.ID = s.nextID
	s.results = append(s.results, result)
	return result.ID, nil
}

// List returns a copy of every stored result.
func (s *ResultStore) List(context.Context) ([]crawler.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.CrawlResult(nil), s.results...), nil
}

// Purge drops all results.
func (s *ResultStore) Purge(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = nil
	return nil
}

// Close is a no-op.
func (s *ResultStore) Close() error {
	return nil
}

var _ crawler.ResultStore = (*ResultStore)(nil)
