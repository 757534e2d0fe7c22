package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/gate"
)

const (
	robotsRefreshInterval = 24 * time.Hour
	maxCrawlDelay         = 5 * time.Second
)

var ErrCrawlingDisallowed = errors.New("crawling disallowed by robots.txt")

type robotsEntry struct {
	group         *robotstxt.Group
	crawlDelay    time.Duration
	lastAccess    time.Time
	robotsFetched time.Time
	mutex         sync.Mutex
}

// RobotsPolicy caches robots.txt per host, rejects disallowed paths and
// spaces requests to one host by its Crawl-delay.
type RobotsPolicy struct {
	client    *http.Client
	gate      *gate.Gate
	userAgent func() string
	sleep     func(ctx context.Context, d time.Duration) error

	cacheMutex sync.Mutex
	cache      map[string]*robotsEntry
}

func NewRobotsPolicy(client *http.Client, g *gate.Gate, userAgent func() string) *RobotsPolicy {
	return &RobotsPolicy{
		client:    client,
		gate:      g,
		userAgent: userAgent,
		sleep:     sleepContext,
		cache:     make(map[string]*robotsEntry),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Checks if fetching is permitted for the given URL
// and enforces the Crawl-delay specified in robots.txt.
func (p *RobotsPolicy) Wait(ctx context.Context, targetURL string) error {
	parsedURL, err := url.Parse(targetURL)
	if err != nil || parsedURL.Host == "" {
		return apperr.Permanent(opFetch, targetURL, apperr.ReasonInvalidURL, err)
	}
	domain := parsedURL.Host

	// Retrieve or initialize the entry
	p.cacheMutex.Lock()
	robotsData, exists := p.cache[domain]
	if !exists {
		robotsData = &robotsEntry{}
		p.cache[domain] = robotsData
	}
	p.cacheMutex.Unlock()

	robotsData.mutex.Lock()
	defer robotsData.mutex.Unlock()

	// Refresh robots.txt if needed
	if robotsData.robotsFetched.IsZero() || time.Since(robotsData.robotsFetched) > robotsRefreshInterval {
		p.fetchRobotsData(ctx, parsedURL, robotsData)
	}

	path := parsedURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	if robotsData.group != nil && !robotsData.group.Test(path) {
		return apperr.Permanent(opFetch, targetURL, apperr.ReasonRobotsDisallowed, ErrCrawlingDisallowed)
	}

	// Enforce crawl delay
	now := time.Now()
	waitTime := robotsData.crawlDelay - now.Sub(robotsData.lastAccess)
	if waitTime > 0 {
		// In case of clock adjustments or anomalies
		waitTime = min(waitTime, robotsData.crawlDelay)
		if err := p.sleep(ctx, waitTime); err != nil {
			return apperr.Transient(opFetch, targetURL, apperr.ReasonCanceled, err)
		}
		robotsData.lastAccess = time.Now()
	} else {
		robotsData.lastAccess = now
	}
	return nil
}

// Fetches and parses the robots.txt file for the host. Any failure is
// treated as allow-all until the next refresh.
func (p *RobotsPolicy) fetchRobotsData(ctx context.Context, parsedURL *url.URL, robotsData *robotsEntry) {
	robotsData.group = nil
	robotsData.crawlDelay = 0
	robotsData.robotsFetched = time.Now()

	robotsURL := parsedURL.Scheme + "://" + parsedURL.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return
	}
	agent := p.userAgent()
	req.Header.Set("User-Agent", agent)

	var robots *robotstxt.RobotsData
	err = p.gate.Do(ctx, func(ctx context.Context) error {
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return nil
		}
		robots, err = robotstxt.FromResponse(resp)
		return err
	})
	if err != nil || robots == nil {
		return
	}

	group := robots.FindGroup(agent)
	if group == nil {
		group = robots.FindGroup("*")
	}
	if group != nil && group.CrawlDelay > 0 {
		robotsData.crawlDelay = min(group.CrawlDelay, maxCrawlDelay)
	}
	robotsData.group = group
}
