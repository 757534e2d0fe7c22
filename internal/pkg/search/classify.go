package search

import (
	"strings"

	"webextract/internal/pkg/utils"
)

// Source types assigned to results.
const (
	SourceDocs    = "docs"
	SourceRepo    = "repo"
	SourceBlog    = "blog"
	SourceNews    = "news"
	SourceVideo   = "video"
	SourceQA      = "qa"
	SourcePackage = "package"
	SourceGaming  = "gaming"
	SourceOther   = "other"
)

type sourceRule struct {
	kind     string
	suffixes []string
	contains []string
}

// First match wins.
var sourceRules = []sourceRule{
	{kind: SourceDocs, suffixes: []string{".github.io"}, contains: []string{
		"docs.rs", "readthedocs", "rust-lang.org", "developer.mozilla.org", "learn.microsoft.com",
		"man7.org", "devdocs.io", "pkg.go.dev", "go.dev", "docs.python.org",
	}},
	{kind: SourceRepo, contains: []string{"github.com", "gitlab.com", "bitbucket.org", "codeberg.org"}},
	{kind: SourceNews, contains: []string{"news", "thenewstack.io"}},
	{kind: SourceBlog, contains: []string{"blog", "medium.com", "dev.to", "reddit.com", "substack.com"}},
	{kind: SourceVideo, contains: []string{"youtube.com", "youtu.be", "vimeo.com"}},
	{kind: SourceQA, contains: []string{"stackoverflow.com", "stackexchange.com"}},
	{kind: SourcePackage, contains: []string{"crates.io", "npmjs.com", "pypi.org"}},
	{kind: SourceGaming, contains: []string{"steam", "facepunch", "game"}},
}

// ClassifySource returns the result's domain and its source type.
func ClassifySource(rawURL string) (string, string) {
	domain, err := utils.GetDomainFromURL(rawURL)
	if err != nil || domain == "" {
		return "", SourceOther
	}
	for _, rule := range sourceRules {
		for _, s := range rule.suffixes {
			if strings.HasSuffix(domain, s) {
				return domain, rule.kind
			}
		}
		for _, c := range rule.contains {
			if strings.Contains(domain, c) {
				return domain, rule.kind
			}
		}
	}
	return domain, SourceOther
}
