package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lexcodex/deepresearch/research"
)

// Tavily calls the Tavily search API. The news variant sets Tavily's
// topic parameter so the API queries its news index.
type Tavily struct {
	APIKey string
	// Depth controls Tavily's depth parameter (basic or advanced).
	Depth   string
	client  *http.Client
	baseURL string
	max     int
	news    bool
}

const tavilyAPIBase = "https://api.tavily.com"

// NewTavily constructs a Tavily web search provider.
func NewTavily(apiKey, depth string, max int) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{
		APIKey:  apiKey,
		Depth:   depth,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: tavilyAPIBase,
		max:     capDefault(max),
	}
}

// NewTavilyNews constructs the news-topic variant.
func NewTavilyNews(apiKey, depth string, max int) *Tavily {
	t := NewTavily(apiKey, depth, max)
	t.news = true
	return t
}

// NewTavilyWithClient constructs a Tavily provider against an arbitrary base
// URL and HTTP client. Useful for tests.
func NewTavilyWithClient(apiKey, depth, baseURL string, client *http.Client, max int) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{APIKey: apiKey, Depth: depth, client: client, baseURL: baseURL, max: capDefault(max)}
}

// Search posts a query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string) ([]research.WebResult, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}

	body := map[string]any{
		"query":   query,
		"api_key": t.APIKey,
		"depth":   t.Depth,
	}
	if t.news {
		body["topic"] = "news"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
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
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	results := make([]research.WebResult, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, research.WebResult{URL: r.URL, Title: r.Title, Snippet: r.Content})
		if len(results) >= t.max {
			break
		}
	}
	return results, nil
}
