package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/formatter"
	"webextract/internal/pkg/history"
	"webextract/internal/pkg/search"
	"webextract/internal/pkg/types"
)

// SearchResult is a rendered search response.
type SearchResult struct {
	Body     string
	Response *types.SearchResponse
	Cached   bool
}

// Search queries the backend through the search cache. The query rewrite
// and the duplicate warning are computed per request, cached or not.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	res, err := s.search(ctx, req)
	s.metrics.Request(opSearch, resultLabel(err))
	if err != nil {
		return nil, err
	}
	s.notifySearch(res.Response)
	return res, nil
}

func (s *Service) search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if s.searcher == nil {
		return nil, apperr.Invalid(opSearch, "search backend is not configured")
	}
	format, err := formatter.ParseFormat(req.OutputFormat)
	if err != nil {
		return nil, err
	}
	resp, cached, err := s.searchResponse(ctx, req.Params)
	if err != nil {
		return nil, err
	}
	body, err := s.formatter.RenderSearch(resp, format)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Body: body, Response: resp, Cached: cached}, nil
}

// Returns a per-request copy of the response for p, truncated to
// p.MaxResults and annotated.
func (s *Service) searchResponse(ctx context.Context, raw search.Params) (*types.SearchResponse, bool, error) {
	p, err := raw.Normalize(s.searcher.Engines())
	if err != nil {
		return nil, false, err
	}
	rewrite, duplicate := s.searcher.Annotate(p.Query)
	key := p.CacheKey()
	logger := s.logger.With().Str("query", p.Query).Logger()

	var (
		resp   *types.SearchResponse
		cached bool
	)
	if s.searchCache != nil {
		hit, ok, err := s.searchCache.Lookup(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Msg("search cache unavailable, treating as miss")
		}
		resp, cached = hit, ok
	}
	if !cached {
		v, err := s.collapse(ctx, opSearch, "search|"+key, func(ctx context.Context) (any, error) {
			fresh, err := s.searcher.Query(ctx, p, rewrite.BestQuery())
			if err != nil {
				return nil, err
			}
			if s.searchCache != nil {
				if err := s.searchCache.Store(ctx, key, fresh); err != nil {
					logger.Warn().Err(err).Msg("search cache store failed")
				}
			}
			return fresh, nil
		})
		if err != nil {
			return nil, false, err
		}
		resp = v.(*types.SearchResponse)
	}

	out := search.Truncate(resp, p.MaxResults)
	out.Extras.Rewrite = rewrite
	out.Extras.DuplicateWarning = duplicate
	logger.Info().Bool("cached", cached).Int("results", len(out.Results)).Msg("search complete")
	return out, cached, nil
}

func (s *Service) notifySearch(resp *types.SearchResponse) {
	if s.history == nil {
		return
	}
	summary := fmt.Sprintf("%d results", len(resp.Results))
	s.history.Notify(history.KindSearch, resp.Query, summary, "", resp.Results)
}

// ResearchResult is a rendered research report.
type ResearchResult struct {
	Body   string
	Report *types.ResearchReport
}

// Research searches for the query, then scrapes the top results
// concurrently. A page that cannot be scraped is reported inline and does
// not fail the request.
func (s *Service) Research(ctx context.Context, req ResearchRequest) (*ResearchResult, error) {
	res, err := s.research(ctx, req)
	s.metrics.Request(opResearch, resultLabel(err))
	return res, err
}

func (s *Service) research(ctx context.Context, req ResearchRequest) (*ResearchResult, error) {
	if s.searcher == nil {
		return nil, apperr.Invalid(opResearch, "search backend is not configured")
	}
	format, err := formatter.ParseFormat(req.OutputFormat)
	if err != nil {
		return nil, err
	}
	topN := clamp(req.TopN, s.cfg.ResearchTopN, 1, maxResearchPages)

	resp, _, err := s.searchResponse(ctx, search.Params{Query: req.Query})
	if err != nil {
		return nil, err
	}
	s.notifySearch(resp)

	hits := resp.Results[:min(topN, len(resp.Results))]
	pages := make([]types.ResearchPage, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(topN)
	for i, hit := range hits {
		g.Go(func() error {
			pages[i] = s.researchPage(gctx, hit, req)
			return nil
		})
	}
	_ = g.Wait()

	report := &types.ResearchReport{Search: resp, Pages: pages}
	body, err := s.formatter.RenderResearch(report, format)
	if err != nil {
		return nil, err
	}
	return &ResearchResult{Body: body, Report: report}, nil
}

func (s *Service) researchPage(ctx context.Context, hit types.SearchResult, req ResearchRequest) types.ResearchPage {
	page := types.ResearchPage{URL: hit.URL, Title: hit.Title}
	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = min(defaultResearchMaxChar, s.cfg.DefaultMaxChars)
	}
	res, err := s.Scrape(ctx, ScrapeRequest{
		URL:      hit.URL,
		MaxChars: maxChars,
		MaxLinks: req.MaxLinks,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("url", hit.URL).Msg("research page failed")
		page.Error = apperr.UserMessage(err)
		return page
	}
	page.Body = res.Body
	page.Cached = res.Cached
	if res.Result.Title != "" {
		page.Title = res.Result.Title
	}
	return page
}
