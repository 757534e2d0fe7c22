package types

import (
	"net/http"
	"time"
)

// Heading is a section title in document order.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is a citation target. Index is its 1-based citation number.
type Link struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

type Image struct {
	Src   string `json:"src"`
	Alt   string `json:"alt,omitempty"`
	Title string `json:"title,omitempty"`
}

// CodeBlock keeps the code text verbatim.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// Marker is the byte span of one inline citation marker in Content.
type Marker struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// Data structure holding everything extracted from one page
type ExtractionResult struct {
	URL          string `json:"url"`
	CanonicalURL string `json:"canonical_url,omitempty"`
	FinalURL     string `json:"final_url,omitempty"`
	Domain       string `json:"domain"`

	Title         string `json:"title"`
	Description   string `json:"meta_description,omitempty"`
	Keywords      string `json:"meta_keywords,omitempty"`
	SiteName      string `json:"site_name,omitempty"`
	OGTitle       string `json:"og_title,omitempty"`
	OGDescription string `json:"og_description,omitempty"`
	OGImage       string `json:"og_image,omitempty"`

	// Content carries inline [n] citation markers, CleanContent does not.
	Content      string   `json:"content"`
	Markers      []Marker `json:"markers,omitempty"`
	CleanContent string   `json:"clean_content"`

	Headings   []Heading   `json:"headings"`
	Links      []Link      `json:"links"`
	Images     []Image     `json:"images"`
	CodeBlocks []CodeBlock `json:"code_blocks"`

	Author             string `json:"author,omitempty"`
	PublishedAt        string `json:"published_at,omitempty"`
	Language           string `json:"language"`
	WordCount          int    `json:"word_count"`
	ReadingTimeMinutes int    `json:"reading_time_minutes"`

	Score    float64  `json:"extraction_score"`
	Warnings []string `json:"warnings"`

	Profile          string `json:"profile"`
	Strategy         string `json:"strategy"`
	ContentLinksOnly bool   `json:"content_links_only"`

	StatusCode  int       `json:"status_code,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	FetchedAt   time.Time `json:"timestamp"`
}

// HasWarning reports whether the warning flag w is set.
func (r *ExtractionResult) HasWarning(w string) bool {
	for _, existing := range r.Warnings {
		if existing == w {
			return true
		}
	}
	return false
}

// RawPage is the decoded outcome of a successful fetch.
type RawPage struct {
	URL           string
	FinalURL      string
	StatusCode    int
	ContentType   string
	Charset       string
	Header        http.Header
	Body          []byte
	BodyTruncated bool
	FetchedAt     time.Time
	Attempts      int
	Duration      time.Duration
}
