package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRewriterDetectsDeveloperQueries(t *testing.T) {
	var r Rewriter
	for _, q := range []string{
		"rust programming tutorial",
		"how to use tokio",
		"python api documentation",
		"javascript error handling",
	} {
		assert.True(t, r.Rewrite(q).IsDeveloperQuery, q)
	}
	for _, q := range []string{"coffee shops near me", "weather forecast", "good restaurants"} {
		assert.False(t, r.Rewrite(q).IsDeveloperQuery, q)
	}
}

func TestRewriterSiteFilters(t *testing.T) {
	var r Rewriter
	tests := map[string]string{
		"rust docs":                        "rust docs site:doc.rust-lang.org",
		"TypeError: x is undefined error:": "TypeError: x is undefined error: site:stackoverflow.com",
		"how to read a file in python":     "how to read a file in python site:docs.python.org",
		"go package for yaml":              "go package for yaml site:pkg.go.dev",
		"serde crate":                      "serde crate site:docs.rs",
		"rust docs site:docs.rs":           "",
		"coffee shops":                     "",
	}
	for q, want := range tests {
		assert.Equal(t, want, r.Rewrite(q).Rewritten, q)
	}
}

func TestRewriterSuggestions(t *testing.T) {
	got := Rewriter{}.Rewrite("tokio mutex").Suggestions
	assert.Equal(t, []string{
		"tokio mutex documentation",
		"tokio mutex tutorial",
		"tokio mutex site:tokio.rs",
		"tokio mutex site:docs.rs",
	}, got)
}

func TestSimilarQueries(t *testing.T) {
	assert.True(t, SimilarQueries("rust programming", "rust"))
	assert.True(t, SimilarQueries("how to use rust", "how to use rust async"))
	assert.True(t, SimilarQueries("python tutorial", "python tutorial for beginners"))
	assert.True(t, SimilarQueries("Go Generics", "go generics"))

	assert.False(t, SimilarQueries("rust", "python"))
	assert.False(t, SimilarQueries("javascript", "java"))
	assert.False(t, SimilarQueries("", "rust"))
}

func TestRecentQueriesWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecentQueries(8, time.Hour)
	r.now = func() time.Time { return now }

	assert.Empty(t, r.Observe("go generics"))

	now = now.Add(5 * time.Minute)
	assert.Equal(t, `Similar search "go generics" was made 5 minutes ago. Consider reusing those results.`,
		r.Observe("go generics tutorial"))

	now = now.Add(2 * time.Hour)
	assert.Empty(t, r.Observe("go generics"))
}

func TestClassifySource(t *testing.T) {
	tests := map[string]string{
		"https://docs.rs/tokio":                  SourceDocs,
		"https://user.github.io/project":         SourceDocs,
		"https://github.com/rust-lang/rust":      SourceRepo,
		"https://news.ycombinator.com/item?id=1": SourceNews,
		"https://medium.com/@a/post":             SourceBlog,
		"https://www.youtube.com/watch?v=x":      SourceVideo,
		"https://stackoverflow.com/questions/1":  SourceQA,
		"https://pypi.org/project/requests":      SourcePackage,
		"https://store.steampowered.com/app/1":   SourceGaming,
		"https://example.com/":                   SourceOther,
	}
	for u, want := range tests {
		_, got := ClassifySource(u)
		assert.Equal(t, want, got, u)
	}
}
