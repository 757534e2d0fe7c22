package extractor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"webextract/internal/pkg/types"
)

func TestCleanLines(t *testing.T) {
	in := strings.Join([]string{
		"   ",
		"ok",
		"A real sentence about the topic.",
		"A real sentence about the topic.",
		"Accept all cookies",
		"Share",
		"Comments",
		"Read more",
		"Another   line   with    spacing.",
		string(fenceOpen) + "go",
		"    indented()",
		"",
		"    Read more",
		string(fenceClose),
	}, "\n")

	want := strings.Join([]string{
		"A real sentence about the topic.",
		"Another line with spacing.",
		string(fenceOpen) + "go",
		"    indented()",
		"",
		"    Read more",
		string(fenceClose),
	}, "\n")
	assert.Equal(t, want, cleanLines(in))
}

func TestCleanLinesKeepsLongLinesWithCommonWords(t *testing.T) {
	long := "This guide explains how to share state between goroutines safely, using channels for ownership transfer and mutexes for shared caches."
	assert.Equal(t, long, cleanLines(long))
}

func TestIsNoiseIdentifier(t *testing.T) {
	tests := map[string]bool{
		"sidebar-left":       true,
		"site-footer":        true,
		"ad-slot":            true,
		"top_ad":             true,
		"cookie-banner":      true,
		"wy-nav-content":     true,
		"article-body":       false,
		"content":            false,
		"markdown":           false,
		"theme-doc-markdown": false,
		"has-sidebar":        true,
		"navbar-offset":      true,
		"downloads":          false,
		"uploads":            false,
		"threads":            false,
		"thread-list":        false,
		"lead-paragraph":     false,
		"read-more":          false,
		"head-title":         false,
		"unavailable":        false,
		"":                   false,
	}
	for ident, want := range tests {
		assert.Equal(t, want, isNoiseIdentifier(ident), ident)
	}
}

func TestScoreBounds(t *testing.T) {
	rich := &types.ExtractionResult{
		WordCount:   1000,
		PublishedAt: "2024-01-01",
		Author:      "A",
		Description: "D",
		CodeBlocks:  []types.CodeBlock{{Code: "fmt.Println()"}},
		Headings:    []types.Heading{{Level: 1}, {Level: 2}, {Level: 2}},
	}
	assert.InDelta(t, 1.0, Score(rich), 1e-9)
	assert.LessOrEqual(t, Score(rich), 1.0)

	assert.Equal(t, 0.0, Score(&types.ExtractionResult{}))

	for _, wc := range []int{0, 10, 21, 51, 101, 499, 500, 2000, 2001, 50000} {
		r := &types.ExtractionResult{WordCount: wc, CodeBlocks: rich.CodeBlocks, Headings: rich.Headings, Author: "x"}
		s := Score(r)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}

	// Length credit shrinks above the saturation range.
	assert.Greater(t, Score(&types.ExtractionResult{WordCount: 2000}), Score(&types.ExtractionResult{WordCount: 8000}))
}

func TestWarnings(t *testing.T) {
	r := &types.ExtractionResult{WordCount: 30, Score: 0.3}
	assert.Equal(t, []string{WarnShortContent, WarnLowScore}, Warnings(r, false))

	r = &types.ExtractionResult{WordCount: 600, Score: 0.9}
	assert.Empty(t, Warnings(r, false))
	assert.Equal(t, []string{WarnBodyFallback}, Warnings(r, true))
}
