package research

import (
	"context"
	"time"
)

// WebResult is one entry returned by a search provider.
type WebResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchProvider issues queries against an external search engine. Both the
// general web index and the news index implement this.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// Page is the scraper's view of a fetched URL.
type Page struct {
	URL         string
	Title       string
	Content     string
	Author      string
	Description string
	PublishDate time.Time
	Links       []string
}

// Scraper fetches and extracts a page. Implementations are black boxes to the
// pipeline; the default lives in the fetch package.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Page, error)
}

// KBResult is a retrieval hit from a knowledge base.
type KBResult struct {
	Content string
	Score   float64
}

// KnowledgeBase provides retrieval-augmented context keyed by arbitrary
// query strings.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, k int) ([]KBResult, error)
}

// Ingestor is implemented by knowledge bases that accept new material. The
// pipeline feeds appended note blocks into the retrieval store so synthesis
// and revision can pull section-specific context later.
type Ingestor interface {
	Ingest(ctx context.Context, id, content string, metadata map[string]interface{}) error
}

// Blocklist is the durable record of URLs/domains that failed content-quality
// checks. It is consulted by every scrape attempt across phases and runs.
type Blocklist interface {
	Blocked(ctx context.Context, rawURL string) (bool, error)
	Block(ctx context.Context, rawURL, reason string) error
}

// DocumentStore persists the output document and the working notes file.
type DocumentStore interface {
	CreateDocument(topic string) (string, error)
	CreateNotes(topic string) (string, error)
	ReadDocument(path string) (string, error)
	WriteDocument(path, content string) error
	UpdateSection(path, section, content string) error
	AppendNotes(notesPath, block string) error
	ReadNotes(notesPath string) (string, error)
	Finalize(path string) error
}
