// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// Clock reports UTC wall time. Task stamps and result durations are taken
// from it, so every process in a run agrees on the time zone.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New returns a Clock.
func New() Clock {
	return Clock{}
}

func (Clock) Now() time.Time {
	return time.Now().UTC()
}
