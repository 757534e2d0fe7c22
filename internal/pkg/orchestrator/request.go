package orchestrator

import (
	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/config"
	"webextract/internal/pkg/formatter"
	"webextract/internal/pkg/search"
	"webextract/internal/pkg/utils"
)

const (
	opScrape   = "scrape"
	opSearch   = "search"
	opResearch = "research"

	maxResearchPages       = 10
	defaultResearchMaxChar = 5000
)

// ScrapeRequest is one retrieval request. Zero values take the configured
// defaults.
type ScrapeRequest struct {
	URL string
	// ContentLinksOnly defaults to true when nil.
	ContentLinksOnly *bool
	MaxLinks         int
	MaxChars         int
	OutputFormat     string
}

// SearchRequest wraps the SearXNG parameters with an output encoding.
type SearchRequest struct {
	search.Params
	OutputFormat string
}

// ResearchRequest searches, then scrapes the top results.
type ResearchRequest struct {
	Query string
	// TopN pages to scrape; zero uses the configured default.
	TopN int
	// MaxChars applies to each page body.
	MaxChars     int
	MaxLinks     int
	OutputFormat string
}

type scrapePlan struct {
	url              string
	key              string
	contentLinksOnly bool
	render           formatter.Options
}

// Applies defaults and clamps limits to the supported range. Only the URL
// and the output format can make a request invalid.
func (s *Service) normalizeScrape(req ScrapeRequest) (scrapePlan, error) {
	if req.URL == "" {
		return scrapePlan{}, apperr.Invalid(opScrape, "url is required")
	}
	normalized, err := utils.NormalizeURL(req.URL)
	if err != nil {
		return scrapePlan{}, apperr.Invalid(opScrape, "invalid url %q: %v", req.URL, err)
	}
	format, err := formatter.ParseFormat(req.OutputFormat)
	if err != nil {
		return scrapePlan{}, err
	}

	contentOnly := true
	if req.ContentLinksOnly != nil {
		contentOnly = *req.ContentLinksOnly
	}
	return scrapePlan{
		url:              normalized,
		key:              fetchKey(normalized, contentOnly),
		contentLinksOnly: contentOnly,
		render: formatter.Options{
			Format:   format,
			MaxChars: clamp(req.MaxChars, s.cfg.DefaultMaxChars, config.MinMaxChars, config.MaxMaxChars),
			MaxLinks: clamp(req.MaxLinks, s.cfg.DefaultMaxLinks, 1, config.MaxMaxLinks),
		},
	}, nil
}

// fetchKey identifies a cached extraction. The link scope changes the
// extracted links, so it is part of the key.
func fetchKey(normalizedURL string, contentLinksOnly bool) string {
	if contentLinksOnly {
		return normalizedURL + "|links=content"
	}
	return normalizedURL + "|links=all"
}

func clamp(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	return max(lo, min(v, hi))
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
