package fetch

import (
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// extracted is the parse result before size limits are applied.
type extracted struct {
	title       string
	ogTitle     string
	text        string
	author      string
	description string
	published   time.Time
	links       []string
}

// skipTags subtrees contribute boilerplate, not article text.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
}

// blockTags end the current line when the walker leaves them.
var blockTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "td": true, "th": true,
	"blockquote": true, "pre": true, "br": true,
}

// extract walks the HTML tree once, collecting text, metadata, and links.
func extract(r io.Reader, base *url.URL) (*extracted, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	ex := &extracted{}
	var sb strings.Builder
	seen := map[string]bool{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if ex.title == "" {
					ex.title = strings.TrimSpace(textOf(n))
				}
				return
			case "meta":
				ex.readMeta(n)
				return
			case "time":
				if ex.published.IsZero() {
					if ts, ok := parseDate(attr(n, "datetime")); ok {
						ex.published = ts
					}
				}
			case "a":
				if href := resolveLink(base, attr(n, "href")); href != "" && !seen[href] {
					seen[href] = true
					ex.links = append(ex.links, href)
				}
			}
			if skipTags[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			sb.WriteString("\n")
		}
	}
	walk(root)

	ex.text = normalizeText(sb.String())

	// og:title beats a missing <title>, not a present one.
	if ex.title == "" {
		ex.title = ex.ogTitle
	}
	return ex, nil
}

// readMeta pulls author, description, publish date, and og:title out of a
// single <meta> element.
func (ex *extracted) readMeta(n *html.Node) {
	name := strings.ToLower(attr(n, "name"))
	prop := strings.ToLower(attr(n, "property"))
	item := strings.ToLower(attr(n, "itemprop"))
	content := strings.TrimSpace(attr(n, "content"))
	if content == "" {
		return
	}

	switch {
	case name == "author" || prop == "article:author" || item == "author":
		if ex.author == "" {
			ex.author = content
		}
	case name == "description" || prop == "og:description":
		if ex.description == "" {
			ex.description = content
		}
	case prop == "og:title":
		if ex.ogTitle == "" {
			ex.ogTitle = content
		}
	case prop == "article:published_time" || name == "date" ||
		name == "publish-date" || item == "datepublished":
		if ex.published.IsZero() {
			if ts, ok := parseDate(content); ok {
				ex.published = ts
			}
		}
	}
}

// dateLayouts covers the formats publishers actually emit in meta tags.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 January 2006",
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// resolveLink turns an href into an absolute http(s) URL, or "" when the
// link is a fragment, javascript:, mailto:, or unparseable.
func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

var spaceRe = regexp.MustCompile(`[ \t\x{00a0}]+`)

// normalizeText collapses runs of whitespace and drops empty lines so the
// content quality gates judge prose, not layout artifacts.
func normalizeText(s string) string {
	s = spaceRe.ReplaceAllString(s, " ")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}
