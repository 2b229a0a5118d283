package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lexcodex/deepresearch/research"
)

// ddgRateLimit enforces a global rate limit of 1 query per second across all
// DuckDuckGo instances and goroutines.
var ddgRateLimit struct {
	mu   sync.Mutex
	last time.Time
}

// DuckDuckGo scrapes DuckDuckGo's HTML lite interface. The news variant asks
// for results no older than a week, which is the closest the lite interface
// gets to a dedicated news index.
type DuckDuckGo struct {
	client *http.Client
	max    int
	news   bool
}

// NewDuckDuckGo creates a DuckDuckGo web searcher with a modest timeout.
func NewDuckDuckGo(max int) *DuckDuckGo {
	return &DuckDuckGo{client: &http.Client{Timeout: 15 * time.Second}, max: capDefault(max)}
}

// NewDuckDuckGoNews creates the news-biased variant.
func NewDuckDuckGoNews(max int) *DuckDuckGo {
	d := NewDuckDuckGo(max)
	d.news = true
	return d
}

// NewDuckDuckGoWithClient creates a DuckDuckGo searcher using the supplied
// HTTP client. Useful for overriding the default timeout in tests.
func NewDuckDuckGoWithClient(client *http.Client, max int) *DuckDuckGo {
	return &DuckDuckGo{client: client, max: capDefault(max)}
}

func capDefault(max int) int {
	if max <= 0 {
		return 10
	}
	return max
}

// Search scrapes the DuckDuckGo lite HTML page for results.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]research.WebResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}

	// Enforce global 1 QPS rate limit.
	ddgRateLimit.mu.Lock()
	if wait := time.Until(ddgRateLimit.last.Add(time.Second)); wait > 0 {
		ddgRateLimit.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		ddgRateLimit.mu.Lock()
	}
	ddgRateLimit.last = time.Now()
	ddgRateLimit.mu.Unlock()

	// The lite HTML version is more stable for scraping than the JS site.
	endpoint := "https://lite.duckduckgo.com/lite/"

	formData := url.Values{}
	formData.Set("q", query)
	if d.news {
		// df=w restricts results to the past week.
		formData.Set("df", "w")
	}

	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(formData.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", browserUserAgent)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = d.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		// Back off and retry on 429, doubling the delay each time up to 30 s.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parseLiteResults(string(body), d.max), nil
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	// Result links: <a ... class='result-link' ... href="URL">TITLE</a>,
	// in either attribute order.
	liteLinkRe  = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	liteLinkRe2 = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	// Snippets live in <td class="result-snippet">.
	liteSnippetRe = regexp.MustCompile(`<td[^>]*class=['"]result-snippet['"][^>]*>([^<]+(?:<[^>]+>[^<]*</[^>]+>)*[^<]*)</td>`)

	anyLinkRe = regexp.MustCompile(`<a[^>]+href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
)

// parseLiteResults extracts search results from the DuckDuckGo lite HTML.
func parseLiteResults(html string, max int) []research.WebResult {
	var results []research.WebResult

	matches := liteLinkRe.FindAllStringSubmatch(html, -1)
	if len(matches) == 0 {
		matches = liteLinkRe2.FindAllStringSubmatch(html, -1)
	}
	snippets := liteSnippetRe.FindAllStringSubmatch(html, -1)

	seen := make(map[string]bool)
	for i, m := range matches {
		if len(m) < 3 {
			continue
		}
		urlStr := strings.TrimSpace(m[1])
		title := decodeEntities(strings.TrimSpace(m[2]))

		snippet := ""
		if i < len(snippets) && len(snippets[i]) > 1 {
			snippet = decodeEntities(snippets[i][1])
		}

		if urlStr == "" || title == "" || seen[urlStr] {
			continue
		}
		seen[urlStr] = true

		results = append(results, research.WebResult{URL: urlStr, Title: title, Snippet: snippet})
		if len(results) >= max {
			break
		}
	}

	// The lite markup changes occasionally; fall back to scanning every
	// external link when the class-based patterns find nothing.
	if len(results) == 0 {
		results = fallbackParse(html, max)
	}
	return results
}

// fallbackParse scans every anchor tag and keeps external links that look
// like result entries.
func fallbackParse(html string, max int) []research.WebResult {
	var results []research.WebResult
	seen := make(map[string]bool)
	for _, m := range anyLinkRe.FindAllStringSubmatch(html, -1) {
		if len(m) < 3 {
			continue
		}
		urlStr := strings.TrimSpace(m[1])
		title := decodeEntities(strings.TrimSpace(m[2]))

		if strings.Contains(urlStr, "duckduckgo.com") ||
			strings.HasPrefix(urlStr, "/") ||
			strings.HasPrefix(urlStr, "#") ||
			strings.HasPrefix(urlStr, "javascript:") {
			continue
		}
		if len(title) < 5 || seen[urlStr] {
			continue
		}
		seen[urlStr] = true

		results = append(results, research.WebResult{URL: urlStr, Title: title})
		if len(results) >= max {
			break
		}
	}
	return results
}

// decodeEntities strips tags and decodes the handful of entities the lite
// page actually emits.
func decodeEntities(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	return strings.TrimSpace(s)
}
