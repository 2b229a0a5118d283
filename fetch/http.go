package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexcodex/deepresearch/research"
)

const (
	// maxBodyBytes bounds how much raw HTML is read from a response.
	maxBodyBytes = 512 * 1024
	// maxTextBytes bounds the extracted plain text kept on the page; pages
	// past this add nothing to note extraction but blow out LLM context.
	maxTextBytes = 32 * 1024

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// HTTPScraper downloads a URL and extracts readable text, metadata, and
// outbound links. It is the default research.Scraper implementation.
type HTTPScraper struct {
	client *http.Client
}

// NewHTTP creates a scraper with a modest timeout.
func NewHTTP() *HTTPScraper {
	return &HTTPScraper{client: &http.Client{Timeout: 15 * time.Second}}
}

// NewHTTPWithClient creates a scraper using the supplied HTTP client.
// Useful for overriding the default timeout or pointing at a test server.
func NewHTTPWithClient(client *http.Client) *HTTPScraper {
	return &HTTPScraper{client: client}
}

// Scrape downloads the URL and returns the extracted page.
func (s *HTTPScraper) Scrape(ctx context.Context, rawURL string) (*research.Page, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, errors.New("scrape url is empty")
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("scrape url %q: %w", trimmed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("scrape http %d for %s", resp.StatusCode, trimmed)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text/plain") {
		return nil, fmt.Errorf("scrape unsupported content type %q for %s", ct, trimmed)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	ex, err := extract(body, base)
	if err != nil {
		return nil, fmt.Errorf("scrape parse %s: %w", trimmed, err)
	}

	content := ex.text
	if len(content) > maxTextBytes {
		content = content[:maxTextBytes] + "\n[TRUNCATED]"
	}

	return &research.Page{
		URL:         trimmed,
		Title:       ex.title,
		Content:     content,
		Author:      ex.author,
		Description: ex.description,
		PublishDate: ex.published,
		Links:       ex.links,
	}, nil
}
