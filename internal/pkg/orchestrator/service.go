package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/cache"
	"webextract/internal/pkg/config"
	"webextract/internal/pkg/extractor"
	"webextract/internal/pkg/formatter"
	"webextract/internal/pkg/history"
	"webextract/internal/pkg/metrics"
	"webextract/internal/pkg/search"
	"webextract/internal/pkg/types"
)

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*types.RawPage, error)
}

// Searcher is the search backend client.
type Searcher interface {
	Engines() []string
	Annotate(query string) (*types.QueryRewrite, string)
	Query(ctx context.Context, p search.Params, effectiveQuery string) (*types.SearchResponse, error)
}

// Deps are the collaborators of a Service. History and Metrics may be nil.
type Deps struct {
	Config      config.Config
	Fetcher     Fetcher
	Extractor   *extractor.Extractor
	Formatter   *formatter.Formatter
	Searcher    Searcher
	ScrapeCache *cache.Layered[*types.ExtractionResult]
	SearchCache *cache.Layered[*types.SearchResponse]
	History     *history.Notifier
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// Service runs retrieval requests end to end: cache, fetch, extract, cache
// store, format. Cached results are shared read-only between requests.
type Service struct {
	cfg         config.Config
	fetcher     Fetcher
	extractor   *extractor.Extractor
	formatter   *formatter.Formatter
	searcher    Searcher
	scrapeCache *cache.Layered[*types.ExtractionResult]
	searchCache *cache.Layered[*types.SearchResponse]
	history     *history.Notifier
	flights     singleflight.Group
	flightMu    sync.Mutex
	inflight    map[string]*flight
	flightGen   uint64
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

func New(d Deps) *Service {
	if d.Formatter == nil {
		d.Formatter = formatter.New(nil)
	}
	return &Service{
		cfg:         d.Config,
		fetcher:     d.Fetcher,
		extractor:   d.Extractor,
		formatter:   d.Formatter,
		searcher:    d.Searcher,
		scrapeCache: d.ScrapeCache,
		searchCache: d.SearchCache,
		history:     d.History,
		inflight:    make(map[string]*flight),
		logger:      d.Logger.With().Str("component", "orchestrator").Logger(),
		metrics:     d.Metrics,
	}
}

// ScrapeResult is a rendered extraction.
type ScrapeResult struct {
	formatter.Output
	Result *types.ExtractionResult
	Cached bool
}

// Scrape retrieves, extracts and renders one page. A fetch failure is
// returned as the typed error; no stale entry is substituted.
func (s *Service) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error) {
	res, err := s.scrape(ctx, req)
	s.metrics.Request(opScrape, resultLabel(err))
	if err != nil {
		return nil, err
	}
	s.notifyScrape(res.Result)
	return res, nil
}

func (s *Service) scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResult, error) {
	plan, err := s.normalizeScrape(req)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Str("url", plan.url).Logger()

	result, cached, err := s.extraction(ctx, plan, logger)
	if err != nil {
		return nil, err
	}
	out, err := s.formatter.Render(result, plan.render)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", plan.url, err)
	}
	logger.Info().
		Bool("cached", cached).
		Int("words", result.WordCount).
		Bool("truncated", out.Truncated).
		Msg("scrape complete")
	return &ScrapeResult{Output: out, Result: result, Cached: cached}, nil
}

// Returns the extraction for plan from the cache, or fetches and extracts
// it and populates the cache.
func (s *Service) extraction(ctx context.Context, plan scrapePlan, logger zerolog.Logger) (*types.ExtractionResult, bool, error) {
	if s.scrapeCache != nil {
		cachedResult, ok, err := s.scrapeCache.Lookup(ctx, plan.key)
		if err != nil {
			logger.Warn().Err(err).Msg("scrape cache unavailable, treating as miss")
		}
		if ok {
			logger.Debug().Msg("scrape cache hit")
			return cachedResult, true, nil
		}
	}

	v, err := s.collapse(ctx, opScrape, "scrape|"+plan.key, func(ctx context.Context) (any, error) {
		return s.fetchAndExtract(ctx, plan, logger)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*types.ExtractionResult), false, nil
}

func (s *Service) fetchAndExtract(ctx context.Context, plan scrapePlan, logger zerolog.Logger) (*types.ExtractionResult, error) {
	page, err := s.fetcher.Fetch(ctx, plan.url)
	if err != nil {
		return nil, err
	}
	base := page.FinalURL
	if base == "" {
		base = plan.url
	}
	result, err := s.extractor.Extract(page.Body, base, extractor.Options{ContentLinksOnly: plan.contentLinksOnly})
	if err != nil {
		return nil, err
	}
	result.URL = plan.url
	if base != plan.url {
		result.FinalURL = base
	}
	result.StatusCode = page.StatusCode
	result.ContentType = page.ContentType
	result.FetchedAt = page.FetchedAt
	if result.FetchedAt.IsZero() {
		result.FetchedAt = time.Now().UTC()
	}
	if page.BodyTruncated {
		result.Warnings = append(result.Warnings, extractor.WarnBodyTruncated)
	}
	s.metrics.Extracted(result.Score)

	if s.scrapeCache != nil {
		if err := s.scrapeCache.Store(ctx, plan.key, result); err != nil {
			logger.Warn().Err(err).Msg("scrape cache store failed")
		}
	}
	return result, nil
}

// flight is one shared call and the callers still waiting on it.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Runs fn once per key among concurrent callers when single-flight is on.
// The shared call outlives any one caller but is cancelled once the last
// waiting caller has gone.
func (s *Service) collapse(ctx context.Context, op, key string, fn func(context.Context) (any, error)) (any, error) {
	if !s.cfg.SingleFlight {
		return fn(ctx)
	}
	f := s.join(ctx, key)
	defer s.leave(key, f)

	ch := s.flights.DoChan(f.key, func() (any, error) {
		return fn(f.ctx)
	})
	select {
	case r := <-ch:
		if r.Shared {
			s.metrics.SharedFetch()
		}
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, apperr.Transient(op, "", apperr.ReasonCanceled, ctx.Err())
	}
}

func (s *Service) join(ctx context.Context, key string) *flight {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	f, ok := s.inflight[key]
	if !ok {
		s.flightGen++
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		// A fresh generation never joins a call abandoned by earlier waiters.
		f = &flight{key: fmt.Sprintf("%s#%d", key, s.flightGen), ctx: shared, cancel: cancel}
		s.inflight[key] = f
	}
	f.waiters++
	return f
}

func (s *Service) leave(key string, f *flight) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.inflight[key] == f {
		delete(s.inflight, key)
	}
}

func (s *Service) notifyScrape(r *types.ExtractionResult) {
	if s.history == nil {
		return
	}
	title := r.Title
	if title == "" {
		title = r.URL
	}
	summary := fmt.Sprintf("%s: %d words, score %.2f", title, r.WordCount, r.Score)
	s.history.Notify(history.KindScrape, r.URL, summary, r.Domain, r)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}
