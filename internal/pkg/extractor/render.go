package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"webextract/internal/pkg/types"
	"webextract/internal/pkg/utils"
)

// Private-use runes delimit citation markers and code fences while the text
// is still being cleaned, so neither can be confused with page text.
const (
	markerOpen  = '\uE000'
	markerClose = '\uE001'
	fenceOpen   = '\uE002'
	fenceClose  = '\uE003'
)

const (
	minCodeChars = 10
	// Garbage patterns only drop lines up to this many runes.
	maxGarbageLineRunes = 120
)

var garbageLine = regexp.MustCompile(`(?i)subscribe|sign up|cookie|accept all|advert|sponsor|newsletter|\bshare\b|related articles|^comments?$|read more|continue reading|terms of service|privacy policy`)

var markerPattern = regexp.MustCompile(`\s*\x{E000}(\d+)\x{E001}`)

var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"ul": true, "ol": true, "dl": true, "dt": true, "dd": true, "table": true,
	"tr": true, "blockquote": true, "figure": true, "figcaption": true,
	"details": true, "summary": true, "hr": true, "address": true,
}

// rendered is the text view of one container.
type rendered struct {
	content    string
	markers    []types.Marker
	clean      string
	words      int
	headings   []types.Heading
	codeBlocks []types.CodeBlock
	images     []types.Image
}

type renderer struct {
	base     *url.URL
	citation map[string]int

	buf        strings.Builder
	headings   []types.Heading
	codeBlocks []types.CodeBlock
	seenCode   map[string]bool
	images     []types.Image
	seenImages map[string]bool
}

// Renders root as markdown-flavoured text. Anchors whose resolved URL has a
// citation number get an inline marker after their text.
func render(root *html.Node, base *url.URL, citation map[string]int) rendered {
	r := &renderer{
		base:       base,
		citation:   citation,
		seenCode:   make(map[string]bool),
		seenImages: make(map[string]bool),
	}
	if root != nil {
		r.walk(root)
	}

	cleaned := restoreFences(cleanLines(r.buf.String()))
	content, markers := placeMarkers(cleaned)
	plain := markerPattern.ReplaceAllString(cleaned, "")

	return rendered{
		content:    content,
		markers:    markers,
		clean:      plain,
		words:      len(strings.Fields(plain)),
		headings:   r.headings,
		codeBlocks: r.codeBlocks,
		images:     r.images,
	}
}

func (r *renderer) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.text(n.Data)
		return
	case html.ElementNode:
	default:
		r.children(n)
		return
	}

	switch tag := n.Data; tag {
	case "script", "style", "noscript", "template":
	case "br":
		r.newline()
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(tag[1] - '0')
		text := collapse(nodeText(n))
		if text != "" {
			r.headings = append(r.headings, types.Heading{Level: level, Text: text})
		}
		r.newline()
		r.buf.WriteString(strings.Repeat("#", level))
		r.buf.WriteByte(' ')
		r.children(n)
		r.newline()
	case "pre":
		r.pre(n)
	case "code":
		r.inlineCode(n)
	case "a":
		r.children(n)
		if u, ok := utils.ResolveHTTP(r.base, attr(n, "href")); ok {
			if idx, ok := r.citation[u]; ok {
				r.buf.WriteRune(markerOpen)
				r.buf.WriteString(strconv.Itoa(idx))
				r.buf.WriteRune(markerClose)
			}
		}
	case "img":
		r.image(n)
	case "li":
		r.newline()
		r.buf.WriteString("- ")
		r.children(n)
		r.newline()
	case "td", "th":
		r.children(n)
		r.buf.WriteByte(' ')
	default:
		if blockTags[tag] {
			r.newline()
			r.children(n)
			r.newline()
			return
		}
		r.children(n)
	}
}

func (r *renderer) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}
}

func (r *renderer) newline() {
	r.buf.WriteByte('\n')
}

// Writes text with whitespace runs collapsed to one space.
func (r *renderer) text(s string) {
	if strings.TrimSpace(s) == "" {
		if s != "" {
			r.buf.WriteByte(' ')
		}
		return
	}
	if s[0] == ' ' || s[0] == '\n' || s[0] == '\t' || s[0] == '\r' {
		r.buf.WriteByte(' ')
	}
	r.buf.WriteString(strings.Join(strings.Fields(s), " "))
	last := s[len(s)-1]
	if last == ' ' || last == '\n' || last == '\t' || last == '\r' {
		r.buf.WriteByte(' ')
	}
}

func (r *renderer) pre(n *html.Node) {
	code := strings.Trim(nodeText(n), "\n")
	if len(strings.TrimSpace(code)) < minCodeChars {
		r.newline()
		r.text(code)
		r.newline()
		return
	}
	lang := codeLanguage(n)
	r.addCode(lang, code)
	r.newline()
	r.buf.WriteRune(fenceOpen)
	r.buf.WriteString(lang)
	r.newline()
	r.buf.WriteString(code)
	r.newline()
	r.buf.WriteRune(fenceClose)
	r.newline()
}

func (r *renderer) inlineCode(n *html.Node) {
	code := nodeText(n)
	if len(strings.TrimSpace(code)) >= minCodeChars {
		r.addCode(codeLanguage(n), code)
	}
	r.buf.WriteByte('`')
	r.buf.WriteString(strings.Join(strings.Fields(code), " "))
	r.buf.WriteByte('`')
}

func (r *renderer) addCode(lang, code string) {
	key := lang + "\x00" + code
	if r.seenCode[key] {
		return
	}
	r.seenCode[key] = true
	r.codeBlocks = append(r.codeBlocks, types.CodeBlock{Language: lang, Code: code})
}

func (r *renderer) image(n *html.Node) {
	src := strings.TrimSpace(attr(n, "src"))
	if src == "" || strings.HasPrefix(src, "data:") {
		return
	}
	if ref, err := url.Parse(src); err == nil {
		src = r.base.ResolveReference(ref).String()
	}
	if r.seenImages[src] {
		return
	}
	r.seenImages[src] = true
	r.images = append(r.images, types.Image{
		Src:   src,
		Alt:   strings.TrimSpace(attr(n, "alt")),
		Title: strings.TrimSpace(attr(n, "title")),
	})
}

// Finds a language hint on a code element, its <pre>, or a highlight wrapper.
func codeLanguage(n *html.Node) string {
	candidates := []*html.Node{n}
	if n.Data == "pre" {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "code" {
				candidates = append([]*html.Node{c}, candidates...)
				break
			}
		}
	}
	for _, c := range candidates {
		for _, class := range strings.Fields(attr(c, "class")) {
			if lang, ok := strings.CutPrefix(class, "language-"); ok && lang != "" {
				return lang
			}
			if lang, ok := strings.CutPrefix(class, "lang-"); ok && lang != "" {
				return lang
			}
		}
		if lang := strings.TrimSpace(attr(c, "data-lang")); lang != "" {
			return lang
		}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		for _, class := range strings.Fields(attr(p, "class")) {
			if lang, ok := strings.CutPrefix(class, "highlight-"); ok && lang != "" && lang != "default" {
				return lang
			}
		}
	}
	return ""
}

// Drops empty, very short, boilerplate and repeated lines. Fenced code is
// passed through verbatim.
func cleanLines(s string) string {
	var (
		kept      []string
		lastPlain string
		inFence   bool
	)
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, string(fenceOpen)) {
			inFence = true
			kept = append(kept, trimmed)
			lastPlain = ""
			continue
		}
		if inFence {
			if trimmed == string(fenceClose) {
				inFence = false
				kept = append(kept, trimmed)
				continue
			}
			kept = append(kept, line)
			continue
		}

		trimmed = strings.Join(strings.Fields(trimmed), " ")
		if trimmed == "" {
			continue
		}
		plain := strings.TrimSpace(markerPattern.ReplaceAllString(trimmed, ""))
		if utf8.RuneCountInString(plain) < 3 || isHeadingMarkOnly(plain) {
			continue
		}
		if utf8.RuneCountInString(plain) <= maxGarbageLineRunes && garbageLine.MatchString(plain) {
			continue
		}
		if plain == lastPlain {
			continue
		}
		lastPlain = plain
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}

// A heading whose text was removed leaves only its "#" prefix.
func isHeadingMarkOnly(s string) bool {
	return strings.Trim(s, "# ") == ""
}

// Writes each private-use marker in s as " [n]" and records the byte span
// it landed on, so later stages never have to tell markers from page text.
func placeMarkers(s string) (string, []types.Marker) {
	var (
		b       strings.Builder
		markers []types.Marker
		last    int
	)
	b.Grow(len(s))
	for _, loc := range markerPattern.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(s[last:loc[0]])
		idx, err := strconv.Atoi(s[loc[2]:loc[3]])
		if err != nil {
			last = loc[1]
			continue
		}
		start := b.Len()
		b.WriteString(" [")
		b.WriteString(s[loc[2]:loc[3]])
		b.WriteByte(']')
		markers = append(markers, types.Marker{Index: idx, Start: start, End: b.Len()})
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String(), markers
}

func restoreFences(s string) string {
	s = strings.ReplaceAll(s, string(fenceOpen), "```")
	return strings.ReplaceAll(s, string(fenceClose), "```")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// Collects text from all text nodes in the subtree, in document order.
func nodeText(node *html.Node) string {
	var builder strings.Builder
	stack := []*html.Node{node}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current.Type == html.TextNode {
			builder.WriteString(current.Data)
		}
		for child := current.LastChild; child != nil; child = child.PrevSibling {
			stack = append(stack, child)
		}
	}
	return builder.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
