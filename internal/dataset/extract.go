package dataset

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Extractor pulls the title and readable paragraphs out of one kind of page
type Extractor interface {
	// Name returns the extractor name
	Name() string

	// CanHandle checks if this extractor understands pages at rawURL
	CanHandle(rawURL string) bool

	// Extract returns the page title (empty if unknown) and its paragraphs
	Extract(doc *html.Node) (title string, paragraphs []string)
}

// Extractors picks a page extractor by URL
type Extractors struct {
	extractors []Extractor
	generic    Extractor
}

// NewExtractors creates a registry with the built-in extractors
func NewExtractors() *Extractors {
	r := &Extractors{generic: genericExtractor{}}
	r.Register(wikipediaExtractor{})
	return r
}

// Register adds an extractor; earlier registrations win
func (r *Extractors) Register(x Extractor) {
	r.extractors = append(r.extractors, x)
}

// For returns the first extractor that handles rawURL, or the generic one
func (r *Extractors) For(rawURL string) Extractor {
	for _, x := range r.extractors {
		if x.CanHandle(rawURL) {
			return x
		}
	}
	return r.generic
}

var defaultExtractors = NewExtractors()

// ExtractPage pulls the page title and paragraph text (one paragraph per
// line) out of HTML fetched from rawURL. The title falls back to the URL's
// last path segment.
func ExtractPage(htmlContent, rawURL string) (title, text string, err error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title, paras := defaultExtractors.For(rawURL).Extract(doc)
	if title == "" {
		title = SubjectFromURL(rawURL)
	}
	return title, strings.Join(paras, "\n"), nil
}

// genericExtractor keeps paragraphs, list items and headings. Scripts,
// styles and navigation chrome are skipped.
type genericExtractor struct{}

func (genericExtractor) Name() string { return "generic" }

func (genericExtractor) CanHandle(string) bool { return true }

func (genericExtractor) Extract(doc *html.Node) (string, []string) {
	var title string
	var paras []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "nav", "footer", "header":
				return
			case "title":
				if title == "" {
					title = strings.TrimSpace(nodeText(n))
				}
				return
			case "p", "li", "h1", "h2", "h3", "blockquote":
				if t := collapse(nodeText(n)); t != "" {
					paras = append(paras, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, paras
}

// wikipediaExtractor reads article paragraphs from MediaWiki pages. Infoboxes,
// navboxes, citation markers and edit links are dropped, and reading stops
// at the reference sections.
type wikipediaExtractor struct{}

var wikiStopSections = []string{"references", "notes", "see also", "external links", "further reading", "bibliography"}

func (wikipediaExtractor) Name() string { return "wikipedia" }

func (wikipediaExtractor) CanHandle(rawURL string) bool {
	return strings.Contains(rawURL, "wikipedia.org")
}

func (wikipediaExtractor) Extract(doc *html.Node) (string, []string) {
	content := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "div" &&
			(hasClass(n, "mw-parser-output") || attr(n, "id") == "mw-content-text")
	})
	if content == nil {
		return genericExtractor{}.Extract(doc)
	}

	title := ""
	if h1 := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "h1" && attr(n, "id") == "firstHeading"
	}); h1 != nil {
		title = collapse(nodeText(h1))
	} else if t := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "title"
	}); t != nil {
		title = strings.TrimSuffix(collapse(nodeText(t)), " - Wikipedia")
	}

	var paras []string
	stopped := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if stopped {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "h2" && isStopSection(collapse(articleText(n))):
				stopped = true
				return
			case n.Data == "table", n.Data == "style", n.Data == "script",
				hasClass(n, "reflist"), hasClass(n, "navbox"), hasClass(n, "hatnote"),
				hasClass(n, "mw-editsection"), hasClass(n, "thumb"):
				return
			case n.Data == "p":
				if t := collapse(articleText(n)); t != "" {
					paras = append(paras, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(content)
	return title, paras
}

func isStopSection(heading string) bool {
	heading = strings.ToLower(heading)
	for _, s := range wikiStopSections {
		if heading == s {
			return true
		}
	}
	return false
}

// articleText is the text of n without citation markers like [1] or edit links
func articleText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "sup" && hasClass(n, "reference") || n.Data == "style" || hasClass(n, "mw-editsection")) {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}
