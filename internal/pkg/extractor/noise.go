package extractor

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Elements dropped from every container before text is taken from it.
var noiseTags = cascadia.MustCompile("script, style, noscript, svg, canvas, iframe, form, header, footer, nav, aside, template")

// Whole tokens of id, class or role values that mark boilerplate blocks.
// Values are split on "-", "_" and other separators before matching, so
// "lead-paragraph" or "downloads" never match "ad" or "ads".
var noiseTokens = map[string]bool{
	"ad": true, "ads": true, "adsense": true, "adunit": true, "adbox": true, "adslot": true,
	"advert": true, "advertisement": true, "advertising": true,
	"sponsor": true, "sponsored": true, "promo": true, "cookie": true, "cookies": true,
	"consent": true, "banner": true, "modal": true, "subscribe": true, "newsletter": true,
	"share": true, "sharing": true, "social": true, "sidebar": true, "comment": true,
	"comments": true, "related": true, "breadcrumb": true, "breadcrumbs": true,
	"pagination": true, "nav": true, "navbar": true, "navigation": true, "footer": true,
	"header": true, "hero": true, "toolbar": true,
}

// Tags whose subtree never holds the main content.
var chromeTags = map[string]bool{"nav": true, "footer": true, "aside": true, "header": true}

// Elements that mark main content. A wrapper holding one is never dropped
// for its identifier alone.
var contentMarkers = cascadia.MustCompile(`article, main, [role="main"], [itemprop="articleBody"]`)

// Inline elements are only dropped by tag, never by identifier, so heading
// anchors such as <a class="header"> keep their text.
var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "code": true, "em": true, "i": true,
	"kbd": true, "mark": true, "small": true, "span": true, "strong": true,
	"sub": true, "sup": true, "time": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func isNoiseIdentifier(ident string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(ident), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if noiseTokens[tok] {
			return true
		}
	}
	return false
}

// Reports whether the element itself looks like boilerplate.
func isNoiseElement(n *html.Node) bool {
	return noiseByTag(n) || noiseByIdentifier(n)
}

func noiseByTag(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	return noiseTags.Match(n)
}

func noiseByIdentifier(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode || inlineTags[n.Data] {
		return false
	}
	switch n.Data {
	case "html", "body":
		return false
	}
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "id", "role":
			if isNoiseIdentifier(attr.Val) {
				return true
			}
		case "class":
			for _, class := range strings.Fields(attr.Val) {
				if isNoiseIdentifier(class) {
					return true
				}
			}
		}
	}
	return false
}

// Reports whether a main-content marker sits strictly below n.
func holdsContent(n *html.Node) bool {
	for _, m := range contentMarkers.MatchAll(n) {
		if m != n {
			return true
		}
	}
	return false
}

// Reports whether a semantic candidate is boilerplate itself or sits inside
// page chrome. Ancestors only count by tag.
func rejectCandidate(n *html.Node) bool {
	if isNoiseElement(n) {
		return true
	}
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && chromeTags[cur.Data] {
			return true
		}
	}
	return false
}

// Returns a detached deep copy of n with every noise element removed.
// The root itself is kept even when it matches.
func cleanClone(n *html.Node) *html.Node {
	return cleanCopy(n, false)
}

// Like cleanClone, but an element matched only by identifier survives when
// it wraps main content.
func cleanBody(n *html.Node) *html.Node {
	return cleanCopy(n, true)
}

func cleanCopy(n *html.Node, keepContentWrappers bool) *html.Node {
	clone := goquery.NewDocumentFromNode(n).Clone()
	clone.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		node := s.Get(0)
		if noiseByTag(node) {
			return true
		}
		if !noiseByIdentifier(node) {
			return false
		}
		return !keepContentWrappers || !holdsContent(node)
	}).Remove()
	return clone.Get(0)
}
