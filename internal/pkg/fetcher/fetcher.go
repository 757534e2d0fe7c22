package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/gate"
	"webextract/internal/pkg/metrics"
	"webextract/internal/pkg/retry"
	"webextract/internal/pkg/types"
	"webextract/internal/pkg/utils"
)

const (
	defaultMaxBodySize = 4 * 1024 * 1024 // 4 MB
	defaultTimeout     = 15 * time.Second
	opFetch            = "fetch"
)

// Options tunes a Fetcher.
type Options struct {
	// Timeout applies to each attempt, not to the whole retry loop.
	Timeout       time.Duration
	MaxBodyBytes  int64
	UserAgent     string
	RespectRobots bool
	Retry         retry.Policy
}

// Fetcher retrieves HTML pages through the gate with bounded retries.
type Fetcher struct {
	client  *http.Client
	gate    *gate.Gate
	opts    Options
	robots  *RobotsPolicy
	agents  *userAgents
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Creates the HTTP client with custom transport settings.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			IdleConnTimeout:       30 * time.Second,
			MaxIdleConns:          64,
			MaxIdleConnsPerHost:   10,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

func New(g *gate.Gate, opts Options, logger zerolog.Logger, m *metrics.Metrics) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodySize
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	f := &Fetcher{
		client:  newHTTPClient(),
		gate:    g,
		opts:    opts,
		agents:  newUserAgents(opts.UserAgent),
		logger:  logger.With().Str("component", "fetcher").Logger(),
		metrics: m,
	}
	if opts.RespectRobots {
		f.robots = NewRobotsPolicy(f.client, g, f.agents.get)
	}
	return f
}

// WithClient swaps the HTTP client, keeping robots checks on the same client.
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	if f.robots != nil {
		f.robots.client = client
	}
	return f
}

// Fetch retrieves rawURL, retrying transient failures. Each attempt holds
// one gate slot only for the duration of its HTTP exchange.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*types.RawPage, error) {
	fullURL, err := utils.BuildFullUrl(rawURL)
	if err != nil {
		return nil, apperr.Permanent(opFetch, rawURL, apperr.ReasonInvalidURL, err)
	}

	if f.robots != nil {
		if err := f.robots.Wait(ctx, fullURL); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var page *types.RawPage
	attempts := 0
	err = retry.Do(ctx, f.opts.Retry, f.logger.With().Str("url", fullURL).Logger(), func(ctx context.Context, attempt int) error {
		attempts = attempt
		release, err := f.gate.Acquire(ctx)
		if err != nil {
			return apperr.Transient(opFetch, fullURL, apperr.ReasonCanceled, err)
		}
		defer release()

		attemptStart := time.Now()
		p, err := f.fetchOnce(ctx, fullURL)
		f.metrics.FetchAttempt(outcomeLabel(err), time.Since(attemptStart))
		if err != nil {
			f.logger.Debug().Err(err).Str("url", fullURL).Int("attempt", attempt).Msg("fetch attempt failed")
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		f.logger.Warn().Err(err).Str("url", fullURL).Int("attempts", attempts).Msg("fetch failed")
		return nil, err
	}

	page.Attempts = attempts
	page.Duration = time.Since(start)
	if page.BodyTruncated {
		f.logger.Warn().Str("url", fullURL).Int64("limit", f.opts.MaxBodyBytes).Msg("response body truncated")
	}
	return page, nil
}

// Performs one HTTP exchange and classifies the outcome.
func (f *Fetcher) fetchOnce(ctx context.Context, fullURL string) (*types.RawPage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, apperr.Permanent(opFetch, fullURL, apperr.ReasonInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.agents.get())
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, fullURL, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(fullURL, resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, err
	}

	body, truncated, err := readLimited(resp.Body, f.opts.MaxBodyBytes)
	if err != nil {
		return nil, classifyTransportError(ctx, fullURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType := contentType
	if strings.TrimSpace(mediaType) == "" {
		mediaType = http.DetectContentType(body)
	}
	if !isHTMLContentType(mediaType) {
		return nil, apperr.Permanent(opFetch, fullURL, apperr.ReasonContentType,
			fmt.Errorf("unsupported content type %q", mediaType))
	}

	decoded, charsetName := decodeBody(body, contentType)
	return &types.RawPage{
		URL:           fullURL,
		FinalURL:      resp.Request.URL.String(),
		StatusCode:    resp.StatusCode,
		ContentType:   mediaType,
		Charset:       charsetName,
		Header:        resp.Header.Clone(),
		Body:          decoded,
		BodyTruncated: truncated,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

// Reads at most limit bytes and reports whether the body was longer.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

func classifyStatus(fullURL string, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		err := apperr.Transient(opFetch, fullURL, apperr.ReasonRateLimited, nil)
		err.StatusCode = code
		err.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return err
	case code >= 500:
		err := apperr.Transient(opFetch, fullURL, apperr.ReasonHTTPStatus, nil)
		err.StatusCode = code
		return err
	default:
		err := apperr.Permanent(opFetch, fullURL, apperr.ReasonHTTPStatus, nil)
		err.StatusCode = code
		return err
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func isHTMLContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var e *apperr.Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return "error"
}
