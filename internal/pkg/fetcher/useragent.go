package fetcher

import (
	"math/rand/v2"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Rotates between a pool of browser user agents unless one is pinned.
type userAgents struct {
	pool []string
}

func newUserAgents(pinned string) *userAgents {
	if pinned != "" {
		return &userAgents{pool: []string{pinned}}
	}
	return &userAgents{pool: defaultUserAgents}
}

func (u *userAgents) get() string {
	if len(u.pool) == 1 {
		return u.pool[0]
	}
	return u.pool[rand.IntN(len(u.pool))]
}
