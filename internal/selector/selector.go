// Package selector implements a bounded top-K candidate selector.
//
// Entries live in a binary min-heap ordered by score so the weakest retained
// candidate is always at the root: inserts and replacements are O(log K)
// while extracting the best candidate costs an O(K) scan plus an
// arbitrary-element removal. Inserts dominate (one per discovered link), and
// extraction happens at most K times per page.
package selector

import (
	"container/heap"
	"errors"
	"math"
	"sort"
)

// ErrEmptySelector is returned by PopHighest when nothing is retained.
var ErrEmptySelector = errors.New("selector is empty")

// Entry is a scored identifier retained by the selector.
type Entry struct {
	ID    string
	Score float64
}

// outranks reports whether a ranks strictly above b. Equal scores fall back
// to lexical identifier order, smaller first.
func outranks(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// minHeap keeps the lowest-ranked entry at index 0.
type minHeap []Entry

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return outranks(h[j], h[i]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// TopK retains the K highest-scored distinct identifiers it has been offered.
// It is not safe for concurrent use.
type TopK struct {
	capacity int
	heap     minHeap
	ids      map[string]struct{}
}

// New returns a selector holding at most capacity entries. A non-positive
// capacity retains nothing.
func New(capacity int) *TopK {
	if capacity < 0 {
		capacity = 0
	}
	return &TopK{
		capacity: capacity,
		heap:     make(minHeap, 0, capacity),
		ids:      make(map[string]struct{}, capacity),
	}
}

// Add offers a candidate. An identifier already retained is ignored without
// updating its score. At capacity the candidate replaces the current minimum
// only when its score is strictly higher. Add reports whether it was kept.
func (s *TopK) Add(id string, score float64) bool {
	if math.IsNaN(score) {
		score = math.Inf(-1)
	}
	if _, dup := s.ids[id]; dup {
		return false
	}
	if s.capacity == 0 {
		return false
	}
	entry := Entry{ID: id, Score: score}
	if len(s.heap) < s.capacity {
		heap.Push(&s.heap, entry)
		s.ids[id] = struct{}{}
		return true
	}
	if score <= s.heap[0].Score {
		return false
	}
	delete(s.ids, s.heap[0].ID)
	s.heap[0] = entry
	s.ids[id] = struct{}{}
	heap.Fix(&s.heap, 0)
	return true
}

// PeekAll returns the retained entries from highest to lowest without mutating.
func (s *TopK) PeekAll() []Entry {
	out := make([]Entry, len(s.heap))
	copy(out, s.heap)
	sort.Slice(out, func(i, j int) bool { return outranks(out[i], out[j]) })
	return out
}

// PopHighest removes and returns the highest-ranked entry.
func (s *TopK) PopHighest() (Entry, error) {
	if len(s.heap) == 0 {
		return Entry{}, ErrEmptySelector
	}
	best := 0
	for i := 1; i < len(s.heap); i++ {
		if outranks(s.heap[i], s.heap[best]) {
			best = i
		}
	}
	// heap.Remove moves the last element into the hole and sifts it down,
	// then up if it did not move: a replacement taken from another subtree
	// can be smaller than the removed node's parent.
	entry := heap.Remove(&s.heap, best).(Entry)
	delete(s.ids, entry.ID)
	return entry, nil
}

// Len returns the number of retained entries.
func (s *TopK) Len() int { return len(s.heap) }

// Cap returns the configured capacity.
func (s *TopK) Cap() int { return s.capacity }

// Contains reports whether id is currently retained.
func (s *TopK) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}
