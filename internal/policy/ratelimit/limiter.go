// Package ratelimit paces requests per origin with token-bucket limiters.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/relevance-crawler/internal/metrics"
)

// Limiter keeps one token bucket per key. Each bucket has burst 1, so
// successive Waits on the same key are spaced by at least its interval.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until key may proceed. The first call for a key fixes its
// interval; a non-positive interval never blocks.
func (l *Limiter) Wait(ctx context.Context, key string, interval time.Duration) error {
	limiter := l.limiterFor(key, interval)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}
	return nil
}

// Interval reports the spacing configured for key, or false if key is unseen.
func (l *Limiter) Interval(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		return 0, false
	}
	if limiter.Limit() == rate.Inf {
		return 0, true
	}
	return time.Duration(float64(time.Second) / float64(limiter.Limit())), true
}

func (l *Limiter) limiterFor(key string, interval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[key]
	if !exists {
		limit := rate.Inf
		if interval > 0 {
			limit = rate.Every(interval)
		}
		limiter = rate.NewLimiter(limit, 1)
		l.limiters[key] = limiter
	}
	return limiter
}
