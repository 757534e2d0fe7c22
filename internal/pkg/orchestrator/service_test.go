package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/cache"
	"webextract/internal/pkg/config"
	"webextract/internal/pkg/extractor"
	"webextract/internal/pkg/fetcher"
	"webextract/internal/pkg/formatter"
	"webextract/internal/pkg/gate"
	"webextract/internal/pkg/history"
	"webextract/internal/pkg/retry"
	"webextract/internal/pkg/search"
	"webextract/internal/pkg/types"
)

const articlePage = `<html lang="en"><head><title>Gate Notes</title></head><body>
<nav><a href="/home">Home</a> <a href="/about">About</a></nav>
<article>
<h1>Gate Notes</h1>
<p>A concurrency gate bounds the number of requests in flight. Every caller acquires a slot before it talks to
the network and releases the slot on every exit path, including cancellation and errors raised half way.</p>
<p>The <a href="https://go.dev/ref/spec">language reference</a> describes channels, and the
<a href="https://pkg.go.dev/golang.org/x/sync/semaphore">semaphore package</a> offers a weighted variant that
blocks without spinning while the ceiling is reached by other callers.</p>
</article>
<footer><a href="/privacy">Privacy</a></footer>
</body></html>`

type failingBackend[V any] struct{}

func (failingBackend[V]) Get(context.Context, string) (V, bool, error) {
	var zero V
	return zero, false, errors.New("connection refused")
}

func (failingBackend[V]) Set(context.Context, string, V, time.Duration) error {
	return errors.New("connection refused")
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Record(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) recorded() []history.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Event(nil), s.events...)
}

type testOptions struct {
	gate         *gate.Gate
	searxngURL   string
	scrapeRemote cache.Backend[*types.ExtractionResult]
	notifier     *history.Notifier
}

func newTestService(opts testOptions) *Service {
	cfg := config.Default()
	cfg.SearxngURL = opts.searxngURL
	g := opts.gate
	if g == nil {
		g = gate.New(4, nil)
	}
	fast := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return New(Deps{
		Config:    cfg,
		Fetcher:   fetcher.New(g, fetcher.Options{Timeout: 2 * time.Second, Retry: fast}, zerolog.Nop(), nil),
		Extractor: extractor.New(zerolog.Nop()),
		Formatter: formatter.New(nil),
		Searcher: search.New(g, search.Options{
			BaseURL: opts.searxngURL,
			Engines: []string{"duckduckgo"},
			Timeout: time.Second,
			Retry:   fast,
		}, zerolog.Nop(), nil),
		ScrapeCache: cache.NewLayered("scrape", cache.New[*types.ExtractionResult](time.Minute, 100), opts.scrapeRemote, zerolog.Nop(), nil),
		SearchCache: cache.NewLayered("search", cache.New[*types.SearchResponse](time.Minute, 100), nil, zerolog.Nop(), nil),
		History:     opts.notifier,
		Logger:      zerolog.Nop(),
	})
}

func pageServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "/old":
			http.Redirect(w, r, "/notes", http.StatusMovedPermanently)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, articlePage)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScrapeCachesExtraction(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{})

	first, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Contains(t, first.Body, "**Gate Notes**")
	assert.Contains(t, first.Body, "**Sources:**")
	assert.Equal(t, http.StatusOK, first.Result.StatusCode)

	// Same page, different spelling of the URL.
	second, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes/#intro"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Same(t, first.Result, second.Result)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScrapeRecordsFetchDetails(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{})

	before := time.Now().UTC()
	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
	require.NoError(t, err)
	assert.False(t, res.Result.FetchedAt.IsZero())
	assert.False(t, res.Result.FetchedAt.Before(before.Add(-time.Second)))
	assert.Empty(t, res.Result.FinalURL)
	assert.Equal(t, "text/html; charset=utf-8", res.Result.ContentType)
}

func TestScrapeKeepsRedirectTargetApartFromCanonical(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{})

	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/old"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/old", res.Result.URL)
	assert.Equal(t, srv.URL+"/notes", res.Result.FinalURL)
	assert.Empty(t, res.Result.CanonicalURL)
	assert.NotContains(t, res.Body, "Canonical:")
	assert.Contains(t, res.Body, "Final URL: "+srv.URL+"/notes\n")
}

func TestScrapeLinkScopeIsPartOfTheKey(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{})

	scoped, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
	require.NoError(t, err)
	all, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes", ContentLinksOnly: Ptr(false)})
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Greater(t, len(all.Result.Links), len(scoped.Result.Links))
}

func TestScrapeServerErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{})

	_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/broken"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransientFetch)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScrapeNotFoundIsPermanentAndNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{})

	for range 2 {
		_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/missing"})
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrPermanentFetch)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestScrapeSurvivesUnavailableCache(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{scrapeRemote: failingBackend[*types.ExtractionResult]{}})

	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
	require.NoError(t, err)
	assert.False(t, res.Cached)

	res, err = svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConcurrentScrapesShareOneFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, articlePage)
	}))
	defer srv.Close()
	svc := newTestService(testOptions{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestAbandonedScrapeCancelsSharedFetch(t *testing.T) {
	upstreamCanceled := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		once.Do(func() { close(upstreamCanceled) })
	}))
	defer srv.Close()
	g := gate.New(1, nil)
	svc := newTestService(testOptions{gate: g})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := svc.Scrape(ctx, ScrapeRequest{URL: srv.URL + "/slow"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransientFetch)

	select {
	case <-upstreamCanceled:
	case <-time.After(time.Second):
		t.Fatal("upstream request still running after its only caller left")
	}
	require.Eventually(t, func() bool { return g.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	svc.flightMu.Lock()
	assert.Empty(t, svc.inflight)
	svc.flightMu.Unlock()
}

func TestSharedFetchSurvivesOneCallerLeaving(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, articlePage)
	}))
	defer srv.Close()
	svc := newTestService(testOptions{})

	stayed := make(chan error, 1)
	go func() {
		_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
		stayed <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	left := make(chan error, 1)
	go func() {
		_, err := svc.Scrape(ctx, ScrapeRequest{URL: srv.URL + "/notes"})
		left <- err
	}()
	require.Eventually(t, func() bool {
		svc.flightMu.Lock()
		defer svc.flightMu.Unlock()
		for _, f := range svc.inflight {
			if f.waiters == 2 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-left, apperr.ErrTransientFetch)

	close(release)
	require.NoError(t, <-stayed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScrapeRequestValidation(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	svc := newTestService(testOptions{})

	_, err := svc.Scrape(context.Background(), ScrapeRequest{})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	_, err = svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL, OutputFormat: "xml"})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	res, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes", MaxChars: 10, MaxLinks: 9000, OutputFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, config.MinMaxChars, res.MaxChars)
	assert.True(t, res.Truncated)
	assert.Contains(t, res.Body, `"max_chars_limit": 100`)

	res, err = svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
	require.NoError(t, err)
	assert.Equal(t, config.Default().DefaultMaxChars, res.MaxChars)
	assert.False(t, res.Truncated)
}

func TestScrapeNotifiesHistory(t *testing.T) {
	var calls atomic.Int32
	srv := pageServer(t, &calls)
	sink := &recordingSink{}
	notifier := history.NewNotifier(sink, history.Options{}, zerolog.Nop(), nil)
	svc := newTestService(testOptions{notifier: notifier})

	_, err := svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/notes"})
	require.NoError(t, err)
	_, err = svc.Scrape(context.Background(), ScrapeRequest{URL: srv.URL + "/missing"})
	require.Error(t, err)
	require.NoError(t, notifier.Close(context.Background()))

	events := sink.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, history.KindScrape, events[0].Kind)
	assert.True(t, strings.HasPrefix(events[0].Summary, "Gate Notes:"))
}

func searxngServer(t *testing.T, calls *atomic.Int32, pageBase string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
  "results": [
    {"url": "%[1]s/notes", "title": "Gate Notes", "content": "bounded concurrency", "engine": "duckduckgo"},
    {"url": "%[1]s/missing", "title": "Gone", "content": "removed page", "engine": "duckduckgo"},
    {"url": "%[1]s/other", "title": "Other", "content": "more", "engine": "duckduckgo"}
  ],
  "answers": [],
  "suggestions": ["semaphore"],
  "corrections": [],
  "unresponsive_engines": []
}`, pageBase)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchUsesCacheAndAnnotatesPerRequest(t *testing.T) {
	var searches atomic.Int32
	srv := searxngServer(t, &searches, "https://example.com")
	svc := newTestService(testOptions{searxngURL: srv.URL})

	first, err := svc.Search(context.Background(), SearchRequest{Params: search.Params{Query: "concurrency gate", MaxResults: 2}})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Response.Results, 2)
	assert.Empty(t, first.Response.Extras.DuplicateWarning)
	assert.Contains(t, first.Body, "Found 2 search results for 'concurrency gate'")

	second, err := svc.Search(context.Background(), SearchRequest{Params: search.Params{Query: "concurrency gate"}})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Len(t, second.Response.Results, 3)
	assert.NotEmpty(t, second.Response.Extras.DuplicateWarning)
	assert.Equal(t, int32(1), searches.Load())

	// The cached response itself is never annotated.
	cached, ok, err := svc.searchCache.Lookup(context.Background(), mustKey(t, "concurrency gate"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, cached.Extras.DuplicateWarning)
}

func mustKey(t *testing.T, query string) string {
	t.Helper()
	p, err := search.Params{Query: query}.Normalize([]string{"duckduckgo"})
	require.NoError(t, err)
	return p.CacheKey()
}

func TestSearchWithoutBackendFails(t *testing.T) {
	svc := newTestService(testOptions{})
	_, err := svc.Search(context.Background(), SearchRequest{Params: search.Params{Query: "anything"}})
	assert.ErrorIs(t, err, apperr.ErrPermanentFetch)
}

func TestResearchReportsPageFailuresInline(t *testing.T) {
	var pageCalls, searches atomic.Int32
	pages := pageServer(t, &pageCalls)
	srv := searxngServer(t, &searches, pages.URL)
	svc := newTestService(testOptions{searxngURL: srv.URL})

	res, err := svc.Research(context.Background(), ResearchRequest{Query: "concurrency gate", TopN: 2})
	require.NoError(t, err)
	require.Len(t, res.Report.Pages, 2)

	ok, failed := res.Report.Pages[0], res.Report.Pages[1]
	assert.Empty(t, ok.Error)
	assert.Contains(t, ok.Body, "**Gate Notes**")
	assert.Equal(t, "Fetch failed: the server answered HTTP 404", failed.Error)
	assert.Empty(t, failed.Body)

	assert.Contains(t, res.Body, "## Page 1: "+pages.URL+"/notes")
	assert.Contains(t, res.Body, "Error: Fetch failed")
	assert.Equal(t, int32(2), pageCalls.Load())
}
