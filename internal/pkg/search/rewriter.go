package search

import (
	"slices"
	"strings"
	"unicode"

	"webextract/internal/pkg/types"
)

// Words that mark a query as developer oriented, in priority order.
var devKeywords = []string{
	"rust", "python", "javascript", "typescript", "go", "golang", "java", "c++", "cpp",
	"ruby", "php", "swift", "kotlin", "scala", "haskell", "elixir", "clojure",
	"react", "vue", "angular", "svelte", "next", "nuxt", "django", "flask",
	"fastapi", "express", "koa", "tokio", "actix", "axum", "rocket", "warp",
	"spring", "laravel", "rails", "phoenix",
	"async", "await", "promise", "future", "mutex", "goroutine", "thread", "concurrency",
	"api", "rest", "graphql", "grpc", "websocket", "http", "tcp", "udp",
	"database", "sql", "nosql", "postgres", "mongodb", "redis", "sqlite",
	"docker", "kubernetes", "git", "github", "gitlab",
	"npm", "cargo", "pip", "maven", "gradle",
	"tutorial", "docs", "documentation", "guide", "example", "code",
	"install", "setup", "configure", "error", "bug", "issue", "fix", "deploy",
	"test", "testing", "debug", "benchmark", "performance", "optimize",
	"crate", "package",
}

var devPhrases = []string{"how to", "error:", "error message"}

var siteMappings = map[string][]string{
	"docs":          {"docs.rs", "doc.rust-lang.org", "developer.mozilla.org", "devdocs.io"},
	"documentation": {"docs.rs", "doc.rust-lang.org", "developer.mozilla.org"},
	"rust":          {"doc.rust-lang.org", "docs.rs", "rust-lang.org"},
	"python":        {"docs.python.org", "pypi.org"},
	"javascript":    {"developer.mozilla.org", "javascript.info"},
	"typescript":    {"typescriptlang.org"},
	"go":            {"go.dev", "pkg.go.dev"},
	"golang":        {"go.dev", "pkg.go.dev"},
	"tokio":         {"tokio.rs", "docs.rs"},
	"react":         {"react.dev", "reactjs.org"},
	"vue":           {"vuejs.org"},
	"django":        {"docs.djangoproject.com"},
	"error":         {"stackoverflow.com", "github.com"},
	"bug":           {"stackoverflow.com", "github.com"},
	"issue":         {"stackoverflow.com", "github.com"},
	"crate":         {"crates.io", "docs.rs"},
	"package":       {"npmjs.com", "pypi.org", "crates.io"},
}

var howToLanguages = []string{"rust", "python", "javascript", "go", "golang", "typescript"}

// Rewriter adds site filters to developer queries it is confident about.
type Rewriter struct{}

// Rewrite analyses query. The result always carries the original; Rewritten
// is set only when a site filter was added.
func (Rewriter) Rewrite(query string) *types.QueryRewrite {
	result := &types.QueryRewrite{Original: query}
	lower := strings.ToLower(query)
	tokens := queryTokens(lower)

	var detected []string
	for _, kw := range devKeywords {
		if slices.Contains(tokens, kw) {
			detected = append(detected, kw)
		}
	}
	if len(detected) == 0 && !containsAny(lower, devPhrases) {
		return result
	}
	result.IsDeveloperQuery = true

	var sites []string
	for _, kw := range detected {
		for _, site := range siteMappings[kw] {
			if !slices.Contains(sites, site) {
				sites = append(sites, site)
			}
		}
	}

	result.Suggestions = suggestions(query, lower, detected, sites)
	if !strings.Contains(lower, "site:") {
		result.Rewritten = autoRewrite(query, lower, tokens, sites)
	}
	return result
}

func suggestions(query, lower string, detected, sites []string) []string {
	var out []string
	if len(detected) > 0 && !containsAny(lower, []string{"docs", "documentation", "tutorial"}) {
		out = append(out, query+" documentation", query+" tutorial")
	}
	for _, site := range sites[:min(2, len(sites))] {
		out = append(out, query+" site:"+site)
	}
	if containsAny(lower, []string{"error", "bug"}) && !strings.Contains(lower, "stackoverflow") {
		out = append(out, query+" site:stackoverflow.com")
	}
	return out
}

func autoRewrite(query, lower string, tokens, sites []string) string {
	hasToken := func(words ...string) bool {
		for _, w := range words {
			if slices.Contains(tokens, w) {
				return true
			}
		}
		return false
	}

	switch {
	case hasToken("docs", "documentation") && len(sites) > 0:
		return query + " site:" + sites[0]
	case strings.Contains(lower, "error:") || strings.Contains(lower, "error message"):
		return query + " site:stackoverflow.com"
	}
	if strings.Contains(lower, "how to") {
		for _, lang := range howToLanguages {
			if hasToken(lang) {
				return query + " site:" + siteMappings[lang][0]
			}
		}
	}
	switch {
	case hasToken("go", "golang") && hasToken("package", "module", "pkg"):
		return query + " site:pkg.go.dev"
	case hasToken("crate"):
		return query + " site:docs.rs"
	}
	return ""
}

// Splits a lowercased query into words, keeping the symbols of names like
// "c++".
func queryTokens(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
