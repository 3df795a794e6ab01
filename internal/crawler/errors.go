package crawler

import (
	"errors"
	"fmt"
)

// Error taxonomy for per-page and per-run failures. Per-page signals
// (ErrMalformedURL, ErrFetchFailed, ErrDisallowed) skip a subtree; ErrDispatch
// and ErrStoreUnavailable at start-up abort the run.
var (
	ErrMalformedURL      = errors.New("malformed url")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrDisallowed        = errors.New("disallowed by robots policy")
	ErrRobotsUnavailable = errors.New("robots policy unavailable")
	ErrNoScorableContent = errors.New("no scorable content")
	ErrDispatch          = errors.New("dispatch failure")
	ErrStoreUnavailable  = errors.New("result store unavailable")
	ErrQueueClosed       = errors.New("queue closed")
)

// FetchError describes a failed fetch, carrying the HTTP status when one was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap lets errors.Is match both ErrFetchFailed and the underlying cause.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// IsSkip reports whether err only invalidates the current subtree.
func IsSkip(err error) bool {
	return errors.Is(err, ErrMalformedURL) ||
		errors.Is(err, ErrFetchFailed) ||
		errors.Is(err, ErrDisallowed)
}
