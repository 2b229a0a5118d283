package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/deepresearch/research"
)

func configFor(provider, key string) research.SearchConfig {
	return research.SearchConfig{Provider: provider, APIKey: key, MaxResults: 10}
}

const liteHTML = `
<table>
<tr><td><a rel="nofollow" class='result-link' href="https://example.org/ada">Ada Lovelace - Biography</a></td></tr>
<tr><td class='result-snippet'>Ada Lovelace wrote the first published algorithm.</td></tr>
<tr><td><a rel="nofollow" class='result-link' href="https://example.org/ada">Ada Lovelace - Biography</a></td></tr>
<tr><td class='result-snippet'>Duplicate entry.</td></tr>
<tr><td><a rel="nofollow" class='result-link' href="https://example.com/engine">Analytical Engine</a></td></tr>
<tr><td class='result-snippet'>Babbage&#39;s proposed mechanical computer &amp; its programs.</td></tr>
</table>`

func TestParseLiteResults(t *testing.T) {
	results := parseLiteResults(liteHTML, 10)
	require.Len(t, results, 2, "duplicate URLs should collapse")

	assert.Equal(t, "https://example.org/ada", results[0].URL)
	assert.Equal(t, "Ada Lovelace - Biography", results[0].Title)
	assert.Equal(t, "Ada Lovelace wrote the first published algorithm.", results[0].Snippet)

	assert.Equal(t, "Babbage's proposed mechanical computer & its programs.", results[1].Snippet)
}

func TestParseLiteResultsHonorsMax(t *testing.T) {
	results := parseLiteResults(liteHTML, 1)
	assert.Len(t, results, 1)
}

func TestParseLiteResultsFallback(t *testing.T) {
	html := `
<a href="/internal">Internal navigation link</a>
<a href="https://duckduckgo.com/settings">Settings page</a>
<a href="https://news.example.com/story">A real external story</a>`
	results := parseLiteResults(html, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "https://news.example.com/story", results[0].URL)
}

func TestBraveDecodesWebResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "/res/v1/web/search", r.URL.Path)
		assert.Equal(t, "ada lovelace", r.URL.Query().Get("q"))
		w.Header().Set("X-RateLimit-Remaining", "1, 5000")
		w.Write([]byte(`{"web":{"results":[
			{"title":"Ada","url":"https://example.org/ada","description":"first programmer"},
			{"title":"Engine","url":"https://example.com/engine","description":"mechanical computer"}
		]}}`))
	}))
	defer srv.Close()

	b := NewBraveWithClient("test-key", srv.URL, srv.Client(), 10)
	results, err := b.Search(context.Background(), "ada lovelace")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Ada", results[0].Title)
	assert.Equal(t, "first programmer", results[0].Snippet)
}

func TestBraveNewsUsesNewsPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/res/v1/news/search", r.URL.Path)
		w.Header().Set("X-RateLimit-Remaining", "1, 5000")
		w.Write([]byte(`{"results":[{"title":"Ada news","url":"https://news.example.com/ada","description":"update"}]}`))
	}))
	defer srv.Close()

	b := NewBraveWithClient("test-key", srv.URL, srv.Client(), 10)
	b.news = true
	results, err := b.Search(context.Background(), "ada lovelace")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://news.example.com/ada", results[0].URL)
}

func TestBraveRequiresAPIKey(t *testing.T) {
	b := NewBrave("  ", 10)
	_, err := b.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestBraveRetriesOn429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("X-RateLimit-Reset", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "1, 5000")
		w.Write([]byte(`{"web":{"results":[{"title":"Ada","url":"https://example.org/ada","description":"bio"}]}}`))
	}))
	defer srv.Close()

	b := NewBraveWithClient("retry-key", srv.URL, srv.Client(), 10)
	results, err := b.Search(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, results, 1)
}

func TestTavilyDecodesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		w.Write([]byte(`{"results":[
			{"title":"Ada","url":"https://example.org/ada","content":"first programmer"},
			{"title":"Engine","url":"https://example.com/engine","content":"mechanical computer"},
			{"title":"Extra","url":"https://example.net/extra","content":"beyond the cap"}
		]}`))
	}))
	defer srv.Close()

	tav := NewTavilyWithClient("test-key", "basic", srv.URL, srv.Client(), 2)
	results, err := tav.Search(context.Background(), "ada lovelace")
	require.NoError(t, err)
	require.Len(t, results, 2, "max caps the result list")
	assert.Equal(t, "first programmer", results[0].Snippet)
}

func TestTavilyRequiresAPIKey(t *testing.T) {
	tav := NewTavily("", "basic", 10)
	_, err := tav.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestFromConfigSelectsProvider(t *testing.T) {
	web, news, err := FromConfig(configFor("duckduckgo", ""))
	require.NoError(t, err)
	assert.IsType(t, &DuckDuckGo{}, web)
	assert.True(t, news.(*DuckDuckGo).news)

	_, _, err = FromConfig(configFor("brave", ""))
	assert.Error(t, err, "brave without a key is a configuration error")

	web, news, err = FromConfig(configFor("tavily", "key"))
	require.NoError(t, err)
	assert.False(t, web.(*Tavily).news)
	assert.True(t, news.(*Tavily).news)

	_, _, err = FromConfig(configFor("bing", ""))
	assert.Error(t, err)
}
