// Package robots decides whether URLs may be fetched under each origin's
// robots.txt and paces fetches by the origin's crawl delay.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/metrics"
	"github.com/JakeFAU/relevance-crawler/internal/policy/ratelimit"
)

const maxRobotsBody = 1 << 20

// Config controls robots.txt handling.
type Config struct {
	// Respect=false allows every URL; pacing still applies.
	Respect      bool
	UserAgent    string
	Timeout      time.Duration
	DefaultDelay time.Duration
}

// DomainPolicy is the cached robots decision state for one origin.
type DomainPolicy struct {
	Origin     string
	CrawlDelay time.Duration
	// FailOpen is set when robots.txt could not be obtained; every path is allowed.
	FailOpen   bool
	LastAccess time.Time

	rules *robotstxt.RobotsData
}

// Allows reports whether userAgent may fetch path under this policy.
func (p *DomainPolicy) Allows(userAgent, path string) bool {
	if p.FailOpen || p.rules == nil {
		return true
	}
	return p.rules.TestAgent(path, userAgent)
}

// Gate caches one DomainPolicy per origin for the life of the process.
type Gate struct {
	cfg     Config
	client  *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	mu       sync.RWMutex
	policies map[string]*DomainPolicy
	group    singleflight.Group
}

// New builds a Gate. A nil client gets a default one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultDelay < 0 {
		cfg.DefaultDelay = 0
	}
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newRetryTransport(http.DefaultTransport),
		}
	}
	return &Gate{
		cfg:      cfg,
		client:   client,
		limiter:  ratelimit.New(),
		logger:   logger.Named("robots"),
		policies: make(map[string]*DomainPolicy),
	}
}

// Origin returns the lower-cased scheme://host[:port] of rawURL, or "" when
// rawURL has no scheme or host.
func Origin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// IsAllowed reports whether userAgent may fetch rawURL under origin's
// robots.txt. Unparseable URLs and canceled lookups are denied.
func (g *Gate) IsAllowed(ctx context.Context, origin, userAgent, rawURL string) bool {
	if !g.cfg.Respect {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	policy, err := g.policyFor(ctx, origin)
	if err != nil {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return policy.Allows(userAgent, path)
}

// AwaitTurn blocks until origin's crawl delay has elapsed since its last
// access, then records this access.
func (g *Gate) AwaitTurn(ctx context.Context, origin string) error {
	delay := g.cfg.DefaultDelay
	var policy *DomainPolicy
	if g.cfg.Respect {
		p, err := g.policyFor(ctx, origin)
		if err != nil {
			return err
		}
		policy = p
		delay = p.CrawlDelay
	}
	if err := g.limiter.Wait(ctx, origin, delay); err != nil {
		return fmt.Errorf("await turn for %s: %w", origin, err)
	}

	now := time.Now()
	g.mu.Lock()
	if policy == nil {
		policy = g.policies[origin]
		if policy == nil {
			policy = &DomainPolicy{Origin: origin, CrawlDelay: delay, FailOpen: true}
			g.policies[origin] = policy
		}
	}
	policy.LastAccess = now
	g.mu.Unlock()
	return nil
}

// Policy returns a snapshot of the cached policy for origin, fetching it on first use.
func (g *Gate) Policy(ctx context.Context, origin string) (DomainPolicy, error) {
	p, err := g.policyFor(ctx, origin)
	if err != nil {
		return DomainPolicy{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return *p, nil
}

func (g *Gate) cached(origin string) (*DomainPolicy, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.policies[origin]
	return p, ok
}

// policyFor collapses concurrent first lookups of an origin into one fetch.
// The fetch itself is detached from ctx so one canceled caller cannot poison
// the cache for the others.
func (g *Gate) policyFor(ctx context.Context, origin string) (*DomainPolicy, error) {
	if p, ok := g.cached(origin); ok {
		return p, nil
	}
	ch := g.group.DoChan(origin, func() (any, error) {
		if p, ok := g.cached(origin); ok {
			return p, nil
		}
		p := g.load(context.WithoutCancel(ctx), origin)
		g.mu.Lock()
		g.policies[origin] = p
		g.mu.Unlock()
		return p, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("robots lookup for %s: %w", origin, ctx.Err())
	case res := <-ch:
		p, ok := res.Val.(*DomainPolicy)
		if !ok {
			return nil, fmt.Errorf("robots cache type mismatch: %T", res.Val)
		}
		return p, nil
	}
}

func (g *Gate) load(ctx context.Context, origin string) *DomainPolicy {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	rules, err := g.fetch(ctx, origin)
	if err != nil {
		g.logger.Warn("robots.txt unavailable; allowing all paths",
			zap.String("origin", origin), zap.Error(err))
		metrics.ObserveRobotsFetch(metrics.RobotsStatusFailOpen)
		return &DomainPolicy{Origin: origin, CrawlDelay: g.cfg.DefaultDelay, FailOpen: true}
	}
	metrics.ObserveRobotsFetch(metrics.RobotsStatusParsed)

	delay := g.cfg.DefaultDelay
	if group := rules.FindGroup(g.cfg.UserAgent); group != nil && group.CrawlDelay > 0 {
		delay = group.CrawlDelay
	}
	g.logger.Debug("robots.txt loaded", zap.String("origin", origin), zap.Duration("crawl_delay", delay))
	return &DomainPolicy{Origin: origin, CrawlDelay: delay, rules: rules}
}

func (g *Gate) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	if origin == "" {
		return nil, fmt.Errorf("%w: empty origin", crawler.ErrRobotsUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: new robots request: %w", crawler.ErrRobotsUnavailable, err)
	}
	if g.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch robots: %w", crawler.ErrRobotsUnavailable, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", crawler.ErrRobotsUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read robots body: %w", crawler.ErrRobotsUnavailable, err)
	}
	rules, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse robots: %w", crawler.ErrRobotsUnavailable, err)
	}
	return rules, nil
}

var _ crawler.Gate = (*Gate)(nil)
