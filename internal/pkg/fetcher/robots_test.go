package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/gate"
	"webextract/internal/pkg/retry"
)

func robotsServer(t *testing.T, status int, robots string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			if hits != nil {
				hits.Add(1)
			}
			w.WriteHeader(status)
			_, _ = io.WriteString(w, robots)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, testPage)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestPolicy() (*RobotsPolicy, *[]time.Duration) {
	var slept []time.Duration
	p := NewRobotsPolicy(http.DefaultClient, gate.New(2, nil), func() string { return "webextract-test" })
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return p, &slept
}

func TestRobotsDisallowedPath(t *testing.T) {
	server := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n", nil)
	p, _ := newTestPolicy()

	err := p.Wait(context.Background(), server.URL+"/private/page")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPermanentFetch)
	assert.ErrorIs(t, err, ErrCrawlingDisallowed)

	assert.NoError(t, p.Wait(context.Background(), server.URL+"/public"))
}

func TestRobotsFetchFailureAllowsAccess(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		server := robotsServer(t, status, "", nil)
		p, _ := newTestPolicy()
		assert.NoError(t, p.Wait(context.Background(), server.URL+"/anything"), "status %d", status)
	}
}

func TestRobotsCachedPerHost(t *testing.T) {
	var hits atomic.Int32
	server := robotsServer(t, http.StatusOK, "User-agent: *\nAllow: /\n", &hits)
	p, _ := newTestPolicy()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(context.Background(), server.URL+"/page"))
	}
	assert.Equal(t, int32(1), hits.Load())

	// An expired entry is fetched again.
	p.cacheMutex.Lock()
	for _, d := range p.cache {
		d.robotsFetched = time.Now().Add(-robotsRefreshInterval - time.Minute)
	}
	p.cacheMutex.Unlock()
	require.NoError(t, p.Wait(context.Background(), server.URL+"/page"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestRobotsCrawlDelayIsCapped(t *testing.T) {
	server := robotsServer(t, http.StatusOK, "User-agent: *\nCrawl-delay: 60\n", nil)
	p, slept := newTestPolicy()

	require.NoError(t, p.Wait(context.Background(), server.URL+"/a"))
	require.NoError(t, p.Wait(context.Background(), server.URL+"/b"))

	require.Len(t, *slept, 1)
	assert.LessOrEqual(t, (*slept)[0], maxCrawlDelay)
	assert.Greater(t, (*slept)[0], time.Duration(0))
}

func TestFetchHonorsRobots(t *testing.T) {
	server := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /\n", nil)
	f := New(gate.New(2, nil), Options{
		RespectRobots: true,
		Retry:         retry.Policy{MaxAttempts: 1},
	}, zerolog.Nop(), nil)

	_, err := f.Fetch(context.Background(), server.URL+"/doc")
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, apperr.ReasonRobotsDisallowed, e.Reason)
}
