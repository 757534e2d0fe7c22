package search

import (
	"fmt"
	"strings"
	"time"

	"webextract/internal/pkg/queue"
)

const (
	defaultRecentCapacity = 64
	defaultRecentWindow   = 6 * time.Hour
	overlapThreshold      = 0.7
)

type recentQuery struct {
	query string
	at    time.Time
}

// RecentQueries remembers the last queries so a near repeat can be flagged.
type RecentQueries struct {
	q      *queue.Queue[recentQuery]
	window time.Duration
	now    func() time.Time
}

func NewRecentQueries(capacity int, window time.Duration) *RecentQueries {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	if window <= 0 {
		window = defaultRecentWindow
	}
	q, _ := queue.CreateQueue[recentQuery](capacity)
	return &RecentQueries{q: q, window: window, now: time.Now}
}

// Observe records query and returns a warning when a similar query was seen
// inside the window, or "" otherwise.
func (r *RecentQueries) Observe(query string) string {
	now := r.now()
	cutoff := now.Add(-r.window)
	r.q.Filter(func(e recentQuery) bool { return e.at.After(cutoff) })

	var warning string
	items := r.q.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if SimilarQueries(query, items[i].query) {
			warning = fmt.Sprintf("Similar search %q was made %s. Consider reusing those results.",
				items[i].query, ago(now.Sub(items[i].at)))
			break
		}
	}
	r.q.Push(recentQuery{query: query, at: now})
	return warning
}

// SimilarQueries reports whether two queries are the same request in
// different words: equal, one token set inside the other, or more than 70%
// shared tokens for multi word queries.
func SimilarQueries(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	sa, sb := tokenSet(ta), tokenSet(tb)
	if subset(sa, sb) || subset(sb, sa) {
		return true
	}
	if len(ta) < 2 || len(tb) < 2 {
		return false
	}
	common := 0
	for _, t := range ta {
		if sb[t] {
			common++
		}
	}
	return float64(common)/float64(max(len(ta), len(tb))) > overlapThreshold
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func subset(a, b map[string]bool) bool {
	for t := range a {
		if !b[t] {
			return false
		}
	}
	return true
}

func ago(d time.Duration) string {
	if h := int(d.Hours()); h > 0 {
		return plural(h, "hour") + " ago"
	}
	return plural(int(d.Minutes()), "minute") + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
