// Package extract pulls visible text and contextualized outbound links from HTML.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/relevance-crawler/internal/crawler"
)

// DefaultContextWindow is the number of words kept on each side of a
// snippet's middle word.
const DefaultContextWindow = 100

// Extractor implements crawler.LinkExtractor.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

type anchor struct {
	href      string
	prevText  int // index of the last text node before the anchor, -1 if none
	firstText int
	endText   int // index of the first text node after the anchor subtree
}

// Extract parses body and returns its visible text plus every http(s) link,
// resolved against baseURL, with the text around it.
func (Extractor) Extract(body []byte, baseURL string, contextWindow int) (crawler.Document, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("%w: base %q: %w", crawler.ErrMalformedURL, baseURL, err)
	}
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Document{}, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}

	var (
		texts   []string
		anchors []anchor
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				texts = append(texts, t)
			}
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		case html.CommentNode:
			return
		}

		idx := -1
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href, ok := attr(n, "href"); ok {
				anchors = append(anchors, anchor{href: href, prevText: len(texts) - 1, firstText: len(texts)})
				idx = len(anchors) - 1
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if idx >= 0 {
			anchors[idx].endText = len(texts)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}

	links := make([]crawler.Link, 0, len(anchors))
	for _, a := range anchors {
		abs, ok := resolve(base, a.href)
		if !ok {
			continue
		}
		var parts []string
		if a.prevText >= 0 {
			parts = append(parts, texts[a.prevText])
		}
		parts = append(parts, texts[a.firstText:a.endText]...)
		if a.endText < len(texts) {
			parts = append(parts, texts[a.endText])
		}
		links = append(links, crawler.Link{URL: abs, Context: Window(strings.Join(parts, " "), contextWindow)})
	}

	return crawler.Document{Text: strings.Join(texts, " "), Links: links}, nil
}

// Window keeps at most window words on each side of the middle word of text.
func Window(text string, window int) string {
	words := strings.Fields(text)
	mid := len(words) / 2
	start := max(0, mid-window)
	end := min(len(words), mid+window)
	return strings.Join(words[start:end], " ")
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

var _ crawler.LinkExtractor = Extractor{}
