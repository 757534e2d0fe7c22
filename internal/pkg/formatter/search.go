package formatter

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"webextract/internal/pkg/types"
)

const snippetRunes = 200

// RenderSearch encodes a search response for a client.
func (f *Formatter) RenderSearch(resp *types.SearchResponse, format Format) (string, error) {
	if format == FormatJSON {
		encoded, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode search response: %w", err)
		}
		return string(encoded), nil
	}

	var b strings.Builder
	ex := resp.Extras

	if ex.DuplicateWarning != "" {
		fmt.Fprintf(&b, "**Note:** %s\n\n", ex.DuplicateWarning)
	}
	if ex.Rewrite.WasRewritten() {
		fmt.Fprintf(&b, "**Query Enhanced:** '%s' -> '%s'\n", ex.Rewrite.Original, ex.Rewrite.Rewritten)
		for _, tip := range ex.Rewrite.Suggestions {
			fmt.Fprintf(&b, "- Tip: %s\n", tip)
		}
		b.WriteString("\n")
	}

	if len(resp.Results) == 0 {
		fmt.Fprintf(&b, "No search results found for '%s'.\n", resp.Query)
		writeList(&b, "Did you mean", ex.Corrections)
		writeList(&b, "Related searches", ex.Suggestions)
		writeUnresponsive(&b, ex.UnresponsiveEngines)
		return b.String(), nil
	}

	fmt.Fprintf(&b, "Found %d search results for '%s':\n\n", len(resp.Results), resp.Query)

	if len(ex.Answers) > 0 {
		b.WriteString("**Instant Answers:**\n")
		for _, a := range ex.Answers {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("\n")
	}

	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, r.Title)
		fmt.Fprintf(&b, "   URL: %s\n", r.URL)
		if r.SourceType != "" && r.SourceType != "other" {
			fmt.Fprintf(&b, "   Type: %s\n", r.SourceType)
		}
		if r.Content != "" {
			fmt.Fprintf(&b, "   %s\n", snippet(r.Content, snippetRunes))
		}
		b.WriteString("\n")
	}

	writeList(&b, "Related searches", ex.Suggestions)
	writeList(&b, "Did you mean", ex.Corrections)
	writeUnresponsive(&b, ex.UnresponsiveEngines)
	return b.String(), nil
}

// RenderResearch encodes a search plus the scraped pages of its top hits.
func (f *Formatter) RenderResearch(rep *types.ResearchReport, format Format) (string, error) {
	if format == FormatJSON {
		encoded, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode research report: %w", err)
		}
		return string(encoded), nil
	}

	var b strings.Builder
	if rep.Search != nil {
		s, err := f.RenderSearch(rep.Search, FormatText)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	for i, p := range rep.Pages {
		fmt.Fprintf(&b, "\n---\n\n## Page %d: %s\n\n", i+1, p.URL)
		if p.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", p.Error)
			continue
		}
		b.WriteString(p.Body)
		if !strings.HasSuffix(p.Body, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:** %s\n", label, strings.Join(items, ", "))
}

func writeUnresponsive(b *strings.Builder, engines []string) {
	if len(engines) == 0 {
		return
	}
	fmt.Fprintf(b, "\n(Some engines did not respond: %s)\n", strings.Join(engines, ", "))
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimRightFunc(s[:byteOffset(s, n)], func(r rune) bool { return r == ' ' }) + "..."
}
