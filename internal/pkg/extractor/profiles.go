package extractor

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Profile is one document family with a known content container.
type Profile interface {
	Name() string
	// Matches reports whether the document carries the family's markers.
	Matches(doc *html.Node) bool
	// Container returns the family's main-content element, or nil.
	Container(doc *goquery.Document) *html.Node
}

// siteProfile matches when every signature XPath finds at least one node.
type siteProfile struct {
	name       string
	signatures []string
	containers []string
}

func (p siteProfile) Name() string { return p.name }

func (p siteProfile) Matches(doc *html.Node) bool {
	if len(p.signatures) == 0 {
		return false
	}
	for _, expr := range p.signatures {
		node, err := htmlquery.Query(doc, expr)
		if err != nil || node == nil {
			return false
		}
	}
	return true
}

func (p siteProfile) Container(doc *goquery.Document) *html.Node {
	for _, sel := range p.containers {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found.Get(0)
		}
	}
	return nil
}

type genericProfile struct{}

func (genericProfile) Name() string                           { return ProfileGeneric }
func (genericProfile) Matches(*html.Node) bool                { return true }
func (genericProfile) Container(*goquery.Document) *html.Node { return nil }

const (
	ProfileGeneric    = "generic"
	ProfileMdBook     = "mdbook"
	ProfileSphinx     = "sphinx"
	ProfileDocusaurus = "docusaurus"
	ProfileMkDocs     = "mkdocs"
)

// DefaultProfiles is checked in order; the generic profile always matches last.
var DefaultProfiles = []Profile{
	siteProfile{
		name: ProfileSphinx,
		signatures: []string{
			`//div[contains(@class,'wy-nav-content')] | //div[contains(@class,'sphinxsidebar')] | //meta[@name='generator' and starts-with(@content,'Sphinx')]`,
			`//*[@itemprop='articleBody' or @role='main']`,
		},
		containers: []string{`[itemprop="articleBody"]`, `div.document [role="main"]`, `[role="main"]`, `.rst-content`},
	},
	siteProfile{
		name: ProfileMdBook,
		signatures: []string{
			`//div[@id='content']//main`,
			`//nav[@id='sidebar'] | //div[@id='menu-bar']`,
		},
		containers: []string{`#content main`, `#content`},
	},
	siteProfile{
		name: ProfileDocusaurus,
		signatures: []string{
			`//div[contains(@class,'theme-doc-markdown')] | //meta[@name='generator' and contains(@content,'Docusaurus')]`,
		},
		containers: []string{`.theme-doc-markdown`, `article`},
	},
	siteProfile{
		name: ProfileMkDocs,
		signatures: []string{
			`//div[contains(@class,'md-content')] | //meta[@name='generator' and contains(@content,'mkdocs')]`,
		},
		containers: []string{`.md-content article`, `.md-content`, `div[role="main"]`},
	},
	genericProfile{},
}

// Classify picks the first profile whose markers are present.
func Classify(doc *html.Node, profiles []Profile) Profile {
	for _, p := range profiles {
		if p.Matches(doc) {
			return p
		}
	}
	return genericProfile{}
}
