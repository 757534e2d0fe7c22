package extractor

import (
	"bytes"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"webextract/internal/pkg/apperr"
	"webextract/internal/pkg/types"
	"webextract/internal/pkg/utils"
)

const (
	maxParseTime   = 5 * time.Second
	minUsableWords = 20
	wordsPerMinute = 200
	// Characters charged per descendant element by the density heuristic.
	tagOverhead = 12
	opExtract   = "extract"
)

const (
	StrategyProfile  = "profile"
	StrategySemantic = "semantic"
	StrategyDensity  = "density"
	StrategyBody     = "body"
)

// Semantic containers tried by the generic profile, in priority order.
var semanticSelectors = []string{
	"article", "main", `[role="main"]`, `[itemprop="articleBody"]`,
	".entry-content", ".post-content", ".article-content",
	"#content", "#main", ".content", ".post", ".article",
}

var densityBlocks = cascadia.MustCompile("div, section, article, main, td, blockquote")

// Options selects per-request extraction policy.
type Options struct {
	// ContentLinksOnly restricts links to the main-content container.
	ContentLinksOnly bool
}

// Extractor turns decoded HTML into an ExtractionResult. It holds no
// per-request state and is safe for concurrent use.
type Extractor struct {
	profiles     []Profile
	parseTimeout time.Duration
	logger       zerolog.Logger
}

func New(logger zerolog.Logger) *Extractor {
	return &Extractor{
		profiles:     DefaultProfiles,
		parseTimeout: maxParseTime,
		logger:       logger.With().Str("component", "extractor").Logger(),
	}
}

// WithProfiles replaces the profile list; the generic profile is implied.
func (e *Extractor) WithProfiles(profiles []Profile) *Extractor {
	e.profiles = profiles
	return e
}

// A located main-content container, already stripped of noise.
type located struct {
	node     *html.Node
	strategy string
	fallback bool
}

// Extract builds the structured result for one page. It fails only with a
// ParseFailure; thin or empty pages come back with warnings instead.
func (e *Extractor) Extract(body []byte, pageURL string, opts Options) (*types.ExtractionResult, error) {
	pageBase, err := url.Parse(pageURL)
	if err != nil || pageBase.Host == "" {
		return nil, apperr.Parse(opExtract, pageURL, fmt.Errorf("invalid page URL %q", pageURL))
	}
	if looksBinary(body) {
		return nil, apperr.Parse(opExtract, pageURL, fmt.Errorf("document is not text"))
	}

	root, err := parseHTMLWithTimeout(body, e.parseTimeout)
	if err != nil {
		return nil, apperr.Parse(opExtract, pageURL, err)
	}
	doc := goquery.NewDocumentFromNode(root)
	base := documentBase(doc, pageBase)

	profile := Classify(root, e.profiles)
	bodyNode := doc.Find("body").First().Get(0)
	if bodyNode == nil {
		bodyNode = root
	}
	loc := e.locate(doc, profile, bodyNode, base)

	var links []types.Link
	if opts.ContentLinksOnly {
		links = collectLinks(loc.node, base)
	} else {
		links = collectLinks(root, base)
	}
	citation := make(map[string]int, len(links))
	for _, l := range links {
		citation[l.URL] = l.Index
	}
	view := render(loc.node, base, citation)

	domain, _ := utils.GetDomainFromURL(pageURL)
	result := &types.ExtractionResult{
		URL:                pageURL,
		Domain:             domain,
		Content:            view.content,
		Markers:            view.markers,
		CleanContent:       view.clean,
		Headings:           nonNil(view.headings),
		Links:              links,
		Images:             nonNil(view.images),
		CodeBlocks:         nonNil(view.codeBlocks),
		WordCount:          view.words,
		ReadingTimeMinutes: int(math.Ceil(float64(view.words) / wordsPerMinute)),
		Profile:            profile.Name(),
		Strategy:           loc.strategy,
		ContentLinksOnly:   opts.ContentLinksOnly,
	}
	extractMetadata(doc, body, base, result)
	result.Score = Score(result)
	result.Warnings = Warnings(result, loc.fallback)

	e.logger.Debug().
		Str("url", pageURL).
		Str("profile", result.Profile).
		Str("strategy", result.Strategy).
		Int("words", result.WordCount).
		Int("links", len(result.Links)).
		Float64("score", result.Score).
		Msg("extracted page")
	return result, nil
}

// Runs the strategy chain: profile container, semantic candidates, densest
// block, then the whole body.
func (e *Extractor) locate(doc *goquery.Document, profile Profile, body *html.Node, base *url.URL) located {
	if container := profile.Container(doc); container != nil {
		cleaned := cleanClone(container)
		if wordCount(cleaned, base) >= minUsableWords {
			return located{node: cleaned, strategy: StrategyProfile}
		}
	}
	if node := semanticContainer(doc, base); node != nil {
		return located{node: node, strategy: StrategySemantic}
	}
	cleanedBody := cleanBody(body)
	if node := densestBlock(cleanedBody); node != nil && wordCount(node, base) >= minUsableWords {
		return located{node: node, strategy: StrategyDensity}
	}
	return located{node: cleanedBody, strategy: StrategyBody, fallback: true}
}

// Picks the wordiest semantic candidate that is not inside boilerplate.
func semanticContainer(doc *goquery.Document, base *url.URL) *html.Node {
	var (
		best      *html.Node
		bestWords int
	)
	for _, sel := range semanticSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if rejectCandidate(node) {
				return
			}
			cleaned := cleanClone(node)
			if words := wordCount(cleaned, base); words > bestWords {
				best, bestWords = cleaned, words
			}
		})
	}
	if bestWords < minUsableWords {
		return nil
	}
	return best
}

// Finds the block with the most text net of markup.
func densestBlock(root *html.Node) *html.Node {
	var (
		best      *html.Node
		bestScore int
	)
	for _, n := range densityBlocks.MatchAll(root) {
		if n == root {
			continue
		}
		text := len(collapse(nodeText(n)))
		elements := 0
		for _, d := range descendants(n) {
			if d.Type == html.ElementNode {
				elements++
			}
		}
		if score := text - tagOverhead*elements; score > bestScore {
			best, bestScore = n, score
		}
	}
	return best
}

func descendants(n *html.Node) []*html.Node {
	var out []*html.Node
	stack := []*html.Node{n}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current != n {
			out = append(out, current)
		}
		for child := current.LastChild; child != nil; child = child.PrevSibling {
			stack = append(stack, child)
		}
	}
	return out
}

func wordCount(n *html.Node, base *url.URL) int {
	return render(n, base, nil).words
}

// Links in document order, deduplicated by resolved URL and numbered from 1.
func collectLinks(root *html.Node, base *url.URL) []types.Link {
	links := make([]types.Link, 0, 32)
	if root == nil {
		return links
	}
	seen := make(map[string]bool)
	goquery.NewDocumentFromNode(root).Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		resolved, ok := utils.ResolveHTTP(base, href)
		if !ok || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, types.Link{
			Index: len(links) + 1,
			URL:   resolved,
			Text:  collapse(s.Text()),
		})
	})
	return links
}

// Applies the first <base href> to the page URL.
func documentBase(doc *goquery.Document, pageURL *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok {
		return pageURL
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return pageURL
	}
	return pageURL.ResolveReference(ref)
}

func parseHTMLWithTimeout(body []byte, maxDuration time.Duration) (*html.Node, error) {
	type parsed struct {
		doc *html.Node
		err error
	}
	done := make(chan parsed, 1)
	go func() {
		doc, err := html.Parse(bytes.NewReader(body))
		done <- parsed{doc, err}
	}()

	timer := time.NewTimer(maxDuration)
	defer timer.Stop()
	select {
	case p := <-done:
		return p.doc, p.err
	case <-timer.C:
		return nil, fmt.Errorf("HTML parsing took longer than %v", maxDuration)
	}
}

// NUL bytes never appear in decoded markup.
func looksBinary(body []byte) bool {
	head := body
	if len(head) > 8192 {
		head = head[:8192]
	}
	return bytes.IndexByte(head, 0) >= 0
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
