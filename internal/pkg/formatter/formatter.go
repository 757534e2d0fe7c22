package formatter

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/extractor"
	"webextract/internal/pkg/types"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text", "json" or empty (text).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatText):
		return FormatText, nil
	case string(FormatJSON):
		return FormatJSON, nil
	}
	return "", apperr.Invalid("format", "output_format must be %q or %q, got %q", FormatText, FormatJSON, s)
}

// Options are the per-request rendering limits.
type Options struct {
	Format   Format
	MaxChars int
	MaxLinks int
}

// Output is a rendered result plus the budget bookkeeping.
type Output struct {
	Body            string
	Truncated       bool
	ActualChars     int
	MaxChars        int
	ShownLinks      int
	TotalLinks      int
	EstimatedTokens int
}

// Formatter renders extraction results. It never modifies the result it is
// given, so cached results can be rendered concurrently.
type Formatter struct {
	tokens TokenCounter
}

func New(tokens TokenCounter) *Formatter {
	if tokens == nil {
		tokens = ApproxCounter{}
	}
	return &Formatter{tokens: tokens}
}

// scrapeRecord is the JSON encoding of one page.
type scrapeRecord struct {
	*types.ExtractionResult
	Truncated       bool `json:"truncated"`
	ActualChars     int  `json:"actual_chars"`
	MaxCharsLimit   int  `json:"max_chars_limit"`
	TotalLinks      int  `json:"total_links"`
	EstimatedTokens int  `json:"estimated_tokens"`
}

// Render applies the link cap and character budget to the body and encodes
// the result in the requested format.
func (f *Formatter) Render(r *types.ExtractionResult, opts Options) (Output, error) {
	totalLinks := len(r.Links)
	shown := min(max(opts.MaxLinks, 0), totalLinks)

	body, markers := StripMarkersAbove(r.Content, r.Markers, shown)
	actual := utf8.RuneCountInString(body)
	trimmed, truncated := ApplyBudget(body, markers, opts.MaxChars)

	warnings := append([]string(nil), r.Warnings...)
	if truncated {
		warnings = append(warnings, extractor.WarnContentTruncated)
	}

	out := Output{
		Truncated:   truncated,
		ActualChars: actual,
		MaxChars:    opts.MaxChars,
		ShownLinks:  shown,
		TotalLinks:  totalLinks,
	}

	switch opts.Format {
	case FormatJSON:
		view := *r
		view.Content = trimmed
		view.Markers = nil
		view.CleanContent, _ = ApplyBudget(r.CleanContent, nil, opts.MaxChars)
		view.Links = r.Links[:shown]
		view.Warnings = warnings
		record := scrapeRecord{
			ExtractionResult: &view,
			Truncated:        truncated,
			ActualChars:      actual,
			MaxCharsLimit:    opts.MaxChars,
			TotalLinks:       totalLinks,
			EstimatedTokens:  f.tokens.Count(trimmed),
		}
		encoded, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return Output{}, fmt.Errorf("encode scrape result: %w", err)
		}
		out.Body = string(encoded)
		out.EstimatedTokens = record.EstimatedTokens
	default:
		out.Body = f.renderText(r, trimmed, truncated, actual, shown, warnings)
		out.EstimatedTokens = f.tokens.Count(out.Body)
	}
	return out, nil
}

func (f *Formatter) renderText(r *types.ExtractionResult, body string, truncated bool, actual, shown int, warnings []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**%s**\n\n", r.Title)
	fmt.Fprintf(&b, "URL: %s\n", r.URL)
	if r.CanonicalURL != "" && r.CanonicalURL != r.URL {
		fmt.Fprintf(&b, "Canonical: %s\n", r.CanonicalURL)
	}
	if r.FinalURL != "" {
		fmt.Fprintf(&b, "Final URL: %s\n", r.FinalURL)
	}
	fmt.Fprintf(&b, "Word Count: %d | Reading Time: %d min | Language: %s\n", r.WordCount, r.ReadingTimeMinutes, r.Language)
	if r.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", r.Author)
	}
	if r.PublishedAt != "" {
		fmt.Fprintf(&b, "Published: %s\n", r.PublishedAt)
	}
	fmt.Fprintf(&b, "Quality: %.2f\n", r.Score)

	b.WriteString("\n**Content:**\n")
	switch {
	case strings.TrimSpace(r.Content) == "":
		b.WriteString(noContentMessage)
	default:
		b.WriteString(body)
		if truncated {
			fmt.Fprintf(&b, "\n\n[Content truncated: %d/%d chars shown. Increase max_chars parameter to see more]",
				utf8.RuneCountInString(body), actual)
		}
		if r.WordCount < 10 {
			fmt.Fprintf(&b, "\n\n**Very short content** (%d words). Page may be mostly dynamic or script-rendered.", r.WordCount)
		}
	}
	b.WriteString("\n")

	if r.Description != "" || r.Keywords != "" {
		b.WriteString("\n**Metadata:**\n")
		if r.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", r.Description)
		}
		if r.Keywords != "" {
			fmt.Fprintf(&b, "- Keywords: %s\n", r.Keywords)
		}
	}

	if len(r.Headings) > 0 {
		b.WriteString("\n**Headings:**\n")
		for _, h := range r.Headings {
			fmt.Fprintf(&b, "- H%d %s\n", h.Level, h.Text)
		}
	}

	fmt.Fprintf(&b, "\n**Links Found:** %d\n**Images Found:** %d\n", len(r.Links), len(r.Images))

	if shown > 0 {
		b.WriteString("\n**Sources:**\n")
		for _, l := range r.Links[:shown] {
			if l.Text != "" {
				fmt.Fprintf(&b, "[%d]: %s (%s)\n", l.Index, l.URL, l.Text)
			} else {
				fmt.Fprintf(&b, "[%d]: %s\n", l.Index, l.URL)
			}
		}
		if len(r.Links) > shown {
			fmt.Fprintf(&b, "\n(Showing %d of %d total links)\n", shown, len(r.Links))
		}
	}

	if len(warnings) > 0 {
		fmt.Fprintf(&b, "\n**Warnings:** %s\n", strings.Join(warnings, ", "))
	}
	return b.String()
}

const noContentMessage = `[No content extracted]

**Possible reasons:**
- Page is script-heavy and needs a browser to render
- Content is behind authentication or a paywall
- Site blocks automated access`
