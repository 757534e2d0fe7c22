package extractor

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"github.com/kennygrant/sanitize"

	"webextract/internal/pkg/types"
)

const (
	unknownLanguage = "unknown"
	noTitle         = "No Title"
)

// Fills identity and descriptive fields from <head>, OpenGraph and JSON-LD.
func extractMetadata(doc *goquery.Document, body []byte, base *url.URL, result *types.ExtractionResult) {
	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(bytes.NewReader(body)); err != nil {
		og = opengraph.NewOpenGraph()
	}
	ld := parseJSONLD(doc)

	result.OGTitle = cleanMeta(og.Title)
	result.OGDescription = cleanMeta(og.Description)
	if len(og.Images) > 0 && og.Images[0] != nil {
		result.OGImage = resolve(base, og.Images[0].URL)
	}
	result.SiteName = cleanMeta(og.SiteName)

	result.Title = firstNonEmpty(
		collapse(doc.Find("title").First().Text()),
		result.OGTitle,
		collapse(doc.Find("h1").First().Text()),
		noTitle,
	)
	result.Description = metaContent(doc, `meta[name="description"]`)
	result.Keywords = metaContent(doc, `meta[name="keywords"]`)

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		result.CanonicalURL = resolve(base, href)
	}

	result.Author = firstNonEmpty(
		metaContent(doc, `meta[name="author"]`),
		metaContent(doc, `meta[property="article:author"]`),
		ld.author,
	)

	var ogPublished string
	if og.Article != nil && og.Article.PublishedTime != nil {
		ogPublished = og.Article.PublishedTime.UTC().Format(time.RFC3339)
	}
	timeAttr, _ := doc.Find("time[datetime]").First().Attr("datetime")
	result.PublishedAt = firstNonEmpty(
		metaContent(doc, `meta[property="article:published_time"]`),
		ogPublished,
		metaContent(doc, `meta[itemprop="datePublished"]`),
		strings.TrimSpace(timeAttr),
		ld.published,
	)

	result.Language = detectLanguage(doc, og.Locale)
}

func detectLanguage(doc *goquery.Document, locale string) string {
	if lang, ok := doc.Find("html").First().Attr("lang"); ok && strings.TrimSpace(lang) != "" {
		return strings.TrimSpace(lang)
	}
	if lang := metaContent(doc, `meta[http-equiv="content-language"]`); lang != "" {
		return lang
	}
	if locale = strings.TrimSpace(locale); locale != "" {
		return strings.ReplaceAll(locale, "_", "-")
	}
	return unknownLanguage
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return cleanMeta(content)
}

// Meta values sometimes carry markup or entities.
func cleanMeta(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = sanitize.HTML(s)
	}
	return collapse(s)
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type linkedData struct {
	author    string
	published string
}

// Reads author and datePublished from application/ld+json blocks.
func parseJSONLD(doc *goquery.Document) linkedData {
	var ld linkedData
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		walkJSONLD(raw, &ld)
		return ld.author == "" || ld.published == ""
	})
	return ld
}

func walkJSONLD(v any, ld *linkedData) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			walkJSONLD(item, ld)
		}
	case map[string]any:
		if ld.published == "" {
			if s, ok := t["datePublished"].(string); ok {
				ld.published = strings.TrimSpace(s)
			}
		}
		if ld.author == "" {
			ld.author = jsonLDName(t["author"])
		}
		if graph, ok := t["@graph"]; ok {
			walkJSONLD(graph, ld)
		}
	}
}

func jsonLDName(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if name, ok := t["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	case []any:
		for _, item := range t {
			if name := jsonLDName(item); name != "" {
				return name
			}
		}
	}
	return ""
}
