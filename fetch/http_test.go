package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
	<title>Ada Lovelace and the Analytical Engine</title>
	<meta name="author" content="Jane Historian">
	<meta name="description" content="How the first published algorithm came to be.">
	<meta property="article:published_time" content="2024-03-15T09:30:00Z">
</head>
<body>
	<nav><a href="/home">Home</a> <a href="/about">About</a></nav>
	<header>Site banner text that should not appear</header>
	<article>
		<h1>Ada Lovelace and the Analytical Engine</h1>
		<p>Ada Lovelace published the first algorithm intended for a machine in 1843.</p>
		<p>Her notes on the <a href="https://example.com/engine">Analytical Engine</a>
		ran three times longer than the article she was translating.</p>
		<p>See also <a href="/notes/translation">the translation notes</a> and
		<a href="#top">the top of this page</a> and <a href="mailto:x@example.org">mail</a>.</p>
	</article>
	<script>trackPageView();</script>
	<footer>Copyright notice</footer>
</body>
</html>`

func serve(t *testing.T, status int, contentType, body string) (*HTTPScraper, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewHTTPWithClient(srv.Client()), srv.URL
}

func TestScrapeExtractsArticle(t *testing.T) {
	s, base := serve(t, http.StatusOK, "text/html; charset=utf-8", articleHTML)

	page, err := s.Scrape(context.Background(), base+"/ada")
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace and the Analytical Engine", page.Title)
	assert.Equal(t, "Jane Historian", page.Author)
	assert.Equal(t, "How the first published algorithm came to be.", page.Description)
	assert.Equal(t, time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC), page.PublishDate)

	assert.Contains(t, page.Content, "first algorithm intended for a machine in 1843")
	assert.NotContains(t, page.Content, "trackPageView")
	assert.NotContains(t, page.Content, "Site banner")
	assert.NotContains(t, page.Content, "Copyright notice")
}

func TestScrapeResolvesLinks(t *testing.T) {
	s, base := serve(t, http.StatusOK, "text/html", articleHTML)

	page, err := s.Scrape(context.Background(), base+"/ada")
	require.NoError(t, err)

	assert.Contains(t, page.Links, "https://example.com/engine")
	assert.Contains(t, page.Links, base+"/notes/translation")
	for _, link := range page.Links {
		assert.True(t, strings.HasPrefix(link, "http"), "link %q should be absolute http(s)", link)
		assert.NotContains(t, link, "#")
	}
}

func TestScrapeRejectsNonOK(t *testing.T) {
	s, base := serve(t, http.StatusNotFound, "text/html", "missing")
	_, err := s.Scrape(context.Background(), base+"/gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestScrapeRejectsNonHTML(t *testing.T) {
	s, base := serve(t, http.StatusOK, "application/pdf", "%PDF-1.7")
	_, err := s.Scrape(context.Background(), base+"/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content type")
}

func TestScrapeEmptyURL(t *testing.T) {
	s := NewHTTP()
	_, err := s.Scrape(context.Background(), "   ")
	assert.Error(t, err)
}

func TestParseDateLayouts(t *testing.T) {
	for _, raw := range []string{
		"2024-03-15T09:30:00Z",
		"2024-03-15",
		"March 15, 2024",
		"15 March 2024",
	} {
		ts, ok := parseDate(raw)
		assert.True(t, ok, "should parse %q", raw)
		assert.Equal(t, 2024, ts.Year())
	}
	_, ok := parseDate("sometime last spring")
	assert.False(t, ok)
}

func TestResolveLink(t *testing.T) {
	base, _ := url.Parse("https://example.org/articles/ada")

	assert.Equal(t, "https://example.org/notes", resolveLink(base, "/notes"))
	assert.Equal(t, "https://other.example.com/x", resolveLink(base, "https://other.example.com/x"))
	assert.Equal(t, "", resolveLink(base, "#section"))
	assert.Equal(t, "", resolveLink(base, "javascript:void(0)"))
	assert.Equal(t, "", resolveLink(base, "mailto:a@b.c"))
	assert.Equal(t, "https://example.org/page", resolveLink(base, "/page#frag"))
}

func TestNormalizeText(t *testing.T) {
	in := "Line  one \t here\n\n\n\n   \nLine two\n"
	out := normalizeText(in)
	assert.Equal(t, "Line one here\nLine two", out)
}
