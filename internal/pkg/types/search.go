package types

import "time"

// SearchResult is one ranked hit from the search aggregator.
type SearchResult struct {
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Engine     string  `json:"engine,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Domain     string  `json:"domain,omitempty"`
	SourceType string  `json:"source_type,omitempty"`
}

// QueryRewrite records how a developer query was adjusted before searching.
type QueryRewrite struct {
	Original         string   `json:"original"`
	Rewritten        string   `json:"rewritten,omitempty"`
	IsDeveloperQuery bool     `json:"is_developer_query"`
	Suggestions      []string `json:"suggestions,omitempty"`
}

func (q *QueryRewrite) WasRewritten() bool {
	return q != nil && q.Rewritten != "" && q.Rewritten != q.Original
}

// BestQuery is the query actually sent upstream.
func (q *QueryRewrite) BestQuery() string {
	if q.WasRewritten() {
		return q.Rewritten
	}
	return q.Original
}

// SearchExtras carries everything the aggregator returns besides results.
type SearchExtras struct {
	Answers             []string      `json:"answers,omitempty"`
	Suggestions         []string      `json:"suggestions,omitempty"`
	Corrections         []string      `json:"corrections,omitempty"`
	UnresponsiveEngines []string      `json:"unresponsive_engines,omitempty"`
	NumberOfResults     int           `json:"number_of_results"`
	DuplicateWarning    string        `json:"duplicate_warning,omitempty"`
	Rewrite             *QueryRewrite `json:"query_rewrite,omitempty"`
}

type SearchResponse struct {
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
	Extras     SearchExtras   `json:"extras"`
	MaxResults int            `json:"max_results"`
	SearchedAt time.Time      `json:"timestamp"`
}

// ResearchPage is the outcome of scraping one search hit.
type ResearchPage struct {
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body,omitempty"`
	Error  string `json:"error,omitempty"`
	Cached bool   `json:"cached"`
}

// ResearchReport combines a search with the pages scraped from its top hits.
type ResearchReport struct {
	Search *SearchResponse `json:"search"`
	Pages  []ResearchPage  `json:"pages"`
}
