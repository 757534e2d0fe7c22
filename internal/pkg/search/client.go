package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/fetcher"
	"webextract/internal/pkg/gate"
	"webextract/internal/pkg/metrics"
	"webextract/internal/pkg/retry"
	"webextract/internal/pkg/types"
	"webextract/internal/pkg/utils"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 8 * 1024 * 1024
	userAgent       = "webextract/1.0"
)

// Options tunes a Client.
type Options struct {
	BaseURL string
	Engines []string
	Timeout time.Duration
	Retry   retry.Policy
	// RewriteQueries adds site filters to developer queries.
	RewriteQueries bool
}

// Client queries a SearXNG instance through the shared gate.
type Client struct {
	baseURL  string
	engines  []string
	http     *http.Client
	gate     *gate.Gate
	opts     Options
	rewriter *Rewriter
	recent   *RecentQueries
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func New(g *gate.Gate, opts Options, logger zerolog.Logger, m *metrics.Metrics) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			MaxElapsed:  4 * time.Second,
		}
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		engines: opts.Engines,
		http:    &http.Client{},
		gate:    g,
		opts:    opts,
		recent:  NewRecentQueries(0, 0),
		logger:  logger.With().Str("component", "search").Logger(),
		metrics: m,
	}
	if opts.RewriteQueries {
		c.rewriter = &Rewriter{}
	}
	return c
}

func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.http = client
	return c
}

// Engines is the configured default engine list.
func (c *Client) Engines() []string { return c.engines }

// Annotate computes the parts of the response that depend on the moment of
// asking rather than on the upstream answer: the query rewrite and the
// duplicate warning. It also records the query in the recent window.
func (c *Client) Annotate(query string) (*types.QueryRewrite, string) {
	rewrite := &types.QueryRewrite{Original: query}
	if c.rewriter != nil {
		rewrite = c.rewriter.Rewrite(query)
	}
	warning := c.recent.Observe(query)
	if warning != "" {
		c.logger.Info().Str("query", query).Msg("similar query seen recently")
	}
	return rewrite, warning
}

// searxngResponse is the subset of the SearXNG JSON we read. Answers and
// unresponsive engines changed shape across SearXNG versions, so they are
// decoded lazily.
type searxngResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Engine  string  `json:"engine"`
		Score   float64 `json:"score"`
	} `json:"results"`
	Answers             []json.RawMessage `json:"answers"`
	Suggestions         []string          `json:"suggestions"`
	Corrections         []string          `json:"corrections"`
	UnresponsiveEngines json.RawMessage   `json:"unresponsive_engines"`
	NumberOfResults     float64           `json:"number_of_results"`
}

// Query asks SearXNG for p, sending effectiveQuery in place of p.Query.
// Results are deduplicated by normalized URL and classified but not
// truncated to p.MaxResults.
func (c *Client) Query(ctx context.Context, p Params, effectiveQuery string) (*types.SearchResponse, error) {
	if c.baseURL == "" {
		return nil, apperr.Permanent(opSearch, "", apperr.ReasonInvalidURL, fmt.Errorf("search backend URL is not configured"))
	}
	endpoint := c.endpoint(p, effectiveQuery)

	var raw searxngResponse
	err := retry.Do(ctx, c.opts.Retry, c.logger.With().Str("query", effectiveQuery).Logger(), func(ctx context.Context, attempt int) error {
		release, err := c.gate.Acquire(ctx)
		if err != nil {
			return apperr.Transient(opSearch, endpoint, apperr.ReasonCanceled, err)
		}
		defer release()

		start := time.Now()
		decoded, err := c.queryOnce(ctx, endpoint)
		c.metrics.FetchAttempt("search_"+outcome(err), time.Since(start))
		if err != nil {
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("search attempt failed")
			return err
		}
		raw = *decoded
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("query", effectiveQuery).Msg("search failed")
		return nil, err
	}

	resp := &types.SearchResponse{
		Query:      p.Query,
		Results:    convertResults(&raw),
		MaxResults: p.MaxResults,
		SearchedAt: time.Now().UTC(),
		Extras: types.SearchExtras{
			Answers:             decodeAnswers(raw.Answers),
			Suggestions:         raw.Suggestions,
			Corrections:         raw.Corrections,
			UnresponsiveEngines: decodeUnresponsive(raw.UnresponsiveEngines),
			NumberOfResults:     int(raw.NumberOfResults),
		},
	}
	c.logger.Debug().Str("query", effectiveQuery).Int("results", len(resp.Results)).Msg("search complete")
	return resp, nil
}

func (c *Client) endpoint(p Params, effectiveQuery string) string {
	v := url.Values{}
	v.Set("q", effectiveQuery)
	v.Set("format", "json")
	v.Set("engines", p.Engines)
	v.Set("categories", p.Categories)
	v.Set("language", p.Language)
	v.Set("safesearch", strconv.Itoa(p.SafeSearch))
	v.Set("time_range", p.TimeRange)
	v.Set("pageno", strconv.Itoa(p.PageNo))
	return c.baseURL + "/search?" + v.Encode()
}

func (c *Client) queryOnce(ctx context.Context, endpoint string) (*searxngResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Permanent(opSearch, endpoint, apperr.ReasonInvalidURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fetcher.ClassifyTransport(ctx, opSearch, endpoint, err)
	}
	defer resp.Body.Close()

	if err := fetcher.ClassifyStatus(opSearch, endpoint, resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, err
	}

	var decoded searxngResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&decoded); err != nil {
		if ctx.Err() != nil {
			return nil, fetcher.ClassifyTransport(ctx, opSearch, endpoint, err)
		}
		// Retried: overloaded instances send cut off bodies.
		return nil, apperr.Transient(opSearch, endpoint, apperr.ReasonUnparseable, fmt.Errorf("decode search response: %w", err))
	}
	return &decoded, nil
}

func convertResults(raw *searxngResponse) []types.SearchResult {
	seen := make(map[string]bool, len(raw.Results))
	results := make([]types.SearchResult, 0, len(raw.Results))
	for _, r := range raw.Results {
		if r.URL == "" {
			continue
		}
		key, err := utils.NormalizeURL(r.URL)
		if err != nil {
			key = r.URL
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		domain, source := ClassifySource(r.URL)
		results = append(results, types.SearchResult{
			URL:        r.URL,
			Title:      strings.TrimSpace(r.Title),
			Content:    strings.TrimSpace(r.Content),
			Engine:     r.Engine,
			Score:      r.Score,
			Domain:     domain,
			SourceType: source,
		})
	}
	return results
}

// Answers are plain strings in older SearXNG and objects with an "answer"
// field in newer ones.
func decodeAnswers(raw []json.RawMessage) []string {
	var out []string
	for _, msg := range raw {
		var s string
		if json.Unmarshal(msg, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Answer string `json:"answer"`
		}
		if json.Unmarshal(msg, &obj) == nil && strings.TrimSpace(obj.Answer) != "" {
			out = append(out, strings.TrimSpace(obj.Answer))
		}
	}
	return out
}

// Unresponsive engines arrive as [[name, reason], ...] or as an object
// keyed by engine name.
func decodeUnresponsive(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var pairs [][]string
	if json.Unmarshal(raw, &pairs) == nil {
		var out []string
		for _, p := range pairs {
			if len(p) > 0 && p[0] != "" {
				out = append(out, p[0])
			}
		}
		return out
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) == nil {
		out := make([]string, 0, len(obj))
		for name := range obj {
			out = append(out, name)
		}
		slices.Sort(out)
		return out
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

// Truncate returns a copy of resp holding at most n results.
func Truncate(resp *types.SearchResponse, n int) *types.SearchResponse {
	out := *resp
	if n > 0 && len(out.Results) > n {
		out.Results = out.Results[:n]
	}
	out.MaxResults = n
	return &out
}
