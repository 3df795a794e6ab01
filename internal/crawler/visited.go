package crawler

import "sync"

// VisitedSet tracks URLs already fetched or scheduled within one traversal.
// Membership is add-only.
type VisitedSet struct {
	seen sync.Map
}

// NewVisitedSet returns an empty VisitedSet.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (v *VisitedSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := v.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Contains reports whether url has been marked.
func (v *VisitedSet) Contains(url string) bool {
	_, ok := v.seen.Load(url)
	return ok
}

// Len returns the number of marked URLs.
func (v *VisitedSet) Len() int {
	n := 0
	v.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
