// Package traversal runs the relevance-guided depth-first crawl of one seed.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
	"github.com/JakeFAU/relevance-crawler/internal/metrics"
	"github.com/JakeFAU/relevance-crawler/internal/robots"
	"github.com/JakeFAU/relevance-crawler/internal/selector"
)

// Defaults applied when Config fields are zero.
const (
	DefaultContextWindow      = 100
	DefaultMinContextWords    = 4
	DefaultScoringConcurrency = 10
)

// Config tunes one traversal.
type Config struct {
	UserAgent          string
	ContextWindow      int
	MinContextWords    int
	ScoringConcurrency int
}

// Controller expands pages, ranks their outbound links and follows the best.
type Controller struct {
	cfg       Config
	fetcher   crawler.Fetcher
	extractor crawler.LinkExtractor
	scorer    crawler.Scorer
	gate      crawler.Gate
	store     crawler.ResultStore
	progress  *crawler.ProgressLog
	logger    *zap.Logger
}

// New constructs a Controller. progress may be nil.
func New(
	cfg Config,
	fetcher crawler.Fetcher,
	extractor crawler.LinkExtractor,
	scorer crawler.Scorer,
	gate crawler.Gate,
	store crawler.ResultStore,
	progress *crawler.ProgressLog,
	logger *zap.Logger,
) *Controller {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.MinContextWords <= 0 {
		cfg.MinContextWords = DefaultMinContextWords
	}
	if cfg.ScoringConcurrency <= 0 {
		cfg.ScoringConcurrency = DefaultScoringConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		scorer:    scorer,
		gate:      gate,
		store:     store,
		progress:  progress,
		logger:    logger.Named("traversal"),
	}
}

type frame struct {
	url   string
	depth int
}

// crawlState is scoped to one Crawl call.
type crawlState struct {
	task    crawler.CrawlTask
	wctx    *crawler.WorkerContext
	visited *crawler.VisitedSet
}

// Crawl visits task.SeedURL and, depth first, the top task.MaxHorizon
// candidates of every page down to task.MaxDepth. A result is returned and
// persisted for every fetched page. Per-page failures prune only their own
// subtree; the error is non-nil only when ctx ends the traversal early.
func (c *Controller) Crawl(ctx context.Context, wctx *crawler.WorkerContext, task crawler.CrawlTask) ([]crawler.CrawlResult, error) {
	st := &crawlState{task: task, wctx: wctx, visited: crawler.NewVisitedSet()}
	stack := []frame{{url: task.SeedURL, depth: 0}}
	var results []crawler.CrawlResult

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("traversal of %s interrupted: %w", task.SeedURL, err)
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		result, children, err := c.visit(ctx, st, f)
		if result != nil {
			results = append(results, *result)
		}
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return results, fmt.Errorf("traversal of %s interrupted: %w", task.SeedURL, ctx.Err())
		case crawler.IsSkip(err):
			c.logger.Warn("skipping url", zap.String("url", f.url), zap.Int("depth", f.depth), zap.Error(err))
			continue
		default:
			c.logger.Error("page failed", zap.String("url", f.url), zap.Int("depth", f.depth), zap.Error(err))
			continue
		}
		// Push in reverse so the best child is popped, and fully explored, first.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{url: children[i], depth: f.depth + 1})
		}
	}
	return results, nil
}

// visit runs one frame through the per-URL lifecycle. A nil result with a
// nil error means the frame was dropped before fetching.
func (c *Controller) visit(ctx context.Context, st *crawlState, f frame) (*crawler.CrawlResult, []string, error) {
	key := visitKey(f.url)
	if f.depth > st.task.MaxDepth || st.visited.Contains(key) {
		c.logger.Debug("skipping url", zap.String("url", f.url), zap.Int("depth", f.depth))
		return nil, nil, nil
	}
	if _, err := crawler.ValidateURL(f.url); err != nil {
		return nil, nil, err
	}
	if !st.visited.MarkIfNew(key) {
		return nil, nil, nil
	}

	origin := robots.Origin(f.url)
	if !c.gate.IsAllowed(ctx, origin, c.cfg.UserAgent, f.url) {
		metrics.ObservePage(f.url, metrics.PageStatusDisallowed, 0)
		return nil, nil, fmt.Errorf("%w: %s", crawler.ErrDisallowed, f.url)
	}
	if err := c.gate.AwaitTurn(ctx, origin); err != nil {
		return nil, nil, fmt.Errorf("await turn: %w", err)
	}

	c.logger.Info("crawling", zap.String("url", f.url), zap.Int("depth", f.depth))
	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{URL: f.url, UserAgent: c.cfg.UserAgent})
	if err != nil {
		metrics.ObservePage(f.url, metrics.PageStatusFailed, 0)
		if !errors.Is(err, crawler.ErrFetchFailed) && ctx.Err() == nil {
			err = &crawler.FetchError{URL: f.url, Err: err}
		}
		return nil, nil, err
	}
	metrics.ObservePage(f.url, metrics.PageStatusFetched, len(resp.Body))
	if err := c.progress.Record(f.url, f.depth); err != nil {
		c.logger.Warn("progress log write failed", zap.Error(err))
	}

	base := resp.URL
	if base == "" {
		base = f.url
	}
	doc, err := c.extractor.Extract(resp.Body, base, c.cfg.ContextWindow)
	if err != nil {
		c.logger.Warn("link extraction failed", zap.String("url", f.url), zap.Error(err))
		doc = crawler.Document{}
	}

	candidates := c.candidates(st, doc.Links)
	snippets := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		snippets = append(snippets, cand.Context)
	}
	result := crawler.CrawlResult{
		CrawlID:        st.task.CrawlID,
		URL:            f.url,
		Depth:          f.depth,
		LinksFound:     len(candidates),
		RelevanceScore: round4(c.scorer.PageScore(st.task.Keyword, doc.Text)),
		ContextSnippet: strings.Join(snippets, "; "),
		Duration:       resp.Duration,
		TotalDuration:  st.wctx.Elapsed(),
	}
	c.persist(ctx, &result)

	if f.depth+1 > st.task.MaxDepth || len(candidates) == 0 {
		return &result, nil, nil
	}

	if err := c.score(ctx, st.task.Keyword, candidates); err != nil {
		return &result, nil, err
	}
	// Selector slots are keyed on the visit key so two spellings of one URL
	// cannot both take a slot.
	horizon := selector.New(st.task.MaxHorizon)
	keys, targets := bestByKey(candidates)
	for _, key := range keys {
		horizon.Add(key, targets[key].Score)
	}
	children := make([]string, 0, horizon.Len())
	for horizon.Len() > 0 {
		entry, err := horizon.PopHighest()
		if err != nil {
			break
		}
		target := targets[entry.ID].URL
		c.logger.Debug("next target", zap.String("url", target), zap.Float64("score", entry.Score))
		children = append(children, target)
	}
	return &result, children, nil
}

// bestByKey keeps the highest-scored candidate per visit key, returning the
// keys in first-seen order. Earlier candidates win ties.
func bestByKey(candidates []crawler.Candidate) ([]string, map[string]crawler.Candidate) {
	keys := make([]string, 0, len(candidates))
	best := make(map[string]crawler.Candidate, len(candidates))
	for _, cand := range candidates {
		key := visitKey(cand.URL)
		kept, ok := best[key]
		if !ok {
			keys = append(keys, key)
		} else if kept.Score >= cand.Score {
			continue
		}
		best[key] = cand
	}
	return keys, best
}

// candidates drops links with too little context or already visited targets.
func (c *Controller) candidates(st *crawlState, links []crawler.Link) []crawler.Candidate {
	out := make([]crawler.Candidate, 0, len(links))
	for _, l := range links {
		if len(strings.Fields(l.Context)) < c.cfg.MinContextWords {
			continue
		}
		if st.visited.Contains(visitKey(l.URL)) {
			continue
		}
		out = append(out, crawler.Candidate{URL: l.URL, Context: l.Context})
	}
	return out
}

// score sets each candidate's Score to the mean of its token similarities,
// or -Inf when its context has nothing scorable.
func (c *Controller) score(ctx context.Context, keyword string, candidates []crawler.Candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ScoringConcurrency)
	for i := range candidates {
		g.Go(func() error {
			values, err := c.scorer.Score(gctx, keyword, candidates[i].Context)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("score candidate: %w", err)
				}
				c.logger.Debug("candidate not scorable", zap.String("url", candidates[i].URL), zap.Error(err))
				candidates[i].Score = math.Inf(-1)
				return nil
			}
			if len(values) == 0 {
				c.logger.Debug("candidate not scorable", zap.String("url", candidates[i].URL),
					zap.Error(crawler.ErrNoScorableContent))
			}
			candidates[i].Score = mean(values)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.ObserveCandidatesScored(len(candidates))
	return nil
}

func (c *Controller) persist(ctx context.Context, result *crawler.CrawlResult) {
	if c.store == nil {
		return
	}
	id, err := c.store.Insert(ctx, *result)
	if err != nil {
		metrics.ObserveResultStored(false)
		c.logger.Error("result not stored", zap.String("url", result.URL),
			zap.Error(fmt.Errorf("%w: %w", crawler.ErrStoreUnavailable, err)))
		return
	}
	metrics.ObserveResultStored(true)
	result.ID = id
}

func visitKey(rawURL string) string {
	if key, err := crawler.NormalizeURL(rawURL); err == nil {
		return key
	}
	return rawURL
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
