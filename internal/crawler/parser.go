package crawler

import (
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// resourceSelector matches elements that embed another document.
const resourceSelector = "embed, iframe, object"

// Parser extracts links and embedded resources from HTML content.
//
// Design decision: anchors are collected with a plain golang.org/x/net/html
// tree walk, which keeps document order and copes with malformed markup.
// Embedded resources are selected with goquery over the same parsed tree,
// so the document is parsed only once.
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains the information extracted from one HTML page.
type ParseResult struct {
	// Title is the page title from the <title> tag.
	Title string

	// Anchors are absolute http(s) URLs from <a href>, in document order.
	Anchors []string

	// Resources are absolute http(s) URLs from embed/iframe src and object data.
	Resources []string
}

// NewParser creates a new HTML parser with the given base URL.
// The base URL is used to resolve relative links.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses HTML content and extracts anchors and embedded resources.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Anchors:   make([]string, 0),
		Resources: make([]string, 0),
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			p.processElement(n, result)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	goquery.NewDocumentFromNode(doc).Find(resourceSelector).Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			src, _ = sel.Attr("data")
		}
		if resolved := p.resolveURL(src); resolved != "" {
			result.Resources = append(result.Resources, resolved)
		}
	})

	return result, nil
}

// processElement handles HTML element nodes.
func (p *Parser) processElement(n *html.Node, result *ParseResult) {
	switch n.Data {
	case "title":
		if result.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.TrimSpace(n.FirstChild.Data)
		}

	case "base":
		// <base href> changes how every later relative link resolves.
		if href := getAttr(n, "href"); href != "" {
			if u, err := url.Parse(strings.TrimSpace(href)); err == nil {
				p.baseURL = p.baseURL.ResolveReference(u)
			}
		}

	case "a":
		if href := getAttr(n, "href"); href != "" {
			if resolved := p.resolveURL(href); resolved != "" {
				result.Anchors = append(result.Anchors, resolved)
			}
		}
	}
}

// resolveURL resolves a reference against the base URL.
// It returns "" for pseudo-links and for anything that does not resolve to http(s).
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return ""
	}

	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := p.baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
