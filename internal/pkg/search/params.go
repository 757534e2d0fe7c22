package search

import (
	"fmt"
	"strings"

	"webextract/internal/pkg/apperr"
)

const (
	DefaultMaxResults = 10
	MaxMaxResults     = 100
	opSearch          = "search"
)

var timeRanges = map[string]bool{"": true, "day": true, "week": true, "month": true, "year": true}

// Params are the knobs of one aggregator query. Empty fields take the
// client defaults.
type Params struct {
	Query      string
	Engines    string
	Categories string
	Language   string
	SafeSearch int
	TimeRange  string
	PageNo     int
	MaxResults int
}

// Normalize validates p and fills defaults. engines is the configured
// engine list used when p names none.
func (p Params) Normalize(engines []string) (Params, error) {
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		return p, apperr.Invalid(opSearch, "query must not be empty")
	}
	if p.Engines == "" {
		p.Engines = strings.Join(engines, ",")
	}
	if p.Categories == "" {
		p.Categories = "general"
	}
	if p.Language == "" {
		p.Language = "en"
	}
	if p.SafeSearch < 0 || p.SafeSearch > 2 {
		p.SafeSearch = 0
	}
	p.TimeRange = strings.ToLower(strings.TrimSpace(p.TimeRange))
	if !timeRanges[p.TimeRange] {
		return p, apperr.Invalid(opSearch, "time_range must be one of day, week, month, year; got %q", p.TimeRange)
	}
	if p.PageNo < 1 {
		p.PageNo = 1
	}
	switch {
	case p.MaxResults <= 0:
		p.MaxResults = DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		p.MaxResults = MaxMaxResults
	}
	return p, nil
}

// CacheKey identifies the upstream query. MaxResults is applied after the
// cache, so it is not part of the key.
func (p Params) CacheKey() string {
	return fmt.Sprintf("q=%s|eng=%s|cat=%s|lang=%s|safe=%d|time=%s|page=%d",
		p.Query, p.Engines, p.Categories, p.Language, p.SafeSearch, p.TimeRange, p.PageNo)
}
