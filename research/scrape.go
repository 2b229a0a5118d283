package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lexcodex/deepresearch/framework"
)

// scrapeOutcome is one URL's trip through the pipeline.
type scrapeOutcome struct {
	URL     string
	Page    *Page
	Skipped string // non-empty reason when the page was rejected
}

// GatherSources scrapes the ranked URLs with a bounded worker pool, applies
// the content quality gates and the cross-reference judge, and returns the
// surviving pages in rank order. Rejected URLs are still marked scraped so
// later phases never retry them; domains that fail hard-block checks are
// recorded in the blocklist.
func (a *Agent) GatherSources(ctx context.Context, topic string, profile *PersonProfile, ranked []RankedResult) ([]*Page, []string, error) {
	limit := a.Config.Scrape.GatherCap
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	outcomes := make([]scrapeOutcome, len(ranked))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Config.Scrape.Workers)
	var mu sync.Mutex
	for i, r := range ranked {
		g.Go(func() error {
			out := a.scrapeOne(gctx, topic, profile, r.URL)
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var pages []*Page
	var visited []string
	for _, out := range outcomes {
		if out.URL == "" {
			continue
		}
		visited = append(visited, out.URL)
		if out.Page != nil {
			pages = append(pages, out.Page)
		} else if out.Skipped != "" {
			a.Logger.Debug("source rejected",
				zap.String("url", out.URL), zap.String("reason", out.Skipped))
		}
	}
	return pages, visited, nil
}

// scrapeOne fetches and gates a single URL. Failures are outcomes, not
// errors: one bad page must never cancel the pool.
func (a *Agent) scrapeOne(ctx context.Context, topic string, profile *PersonProfile, url string) scrapeOutcome {
	out := scrapeOutcome{URL: url}
	if blocked, err := a.Blocklist.Blocked(ctx, url); err == nil && blocked {
		out.Skipped = "domain previously blocklisted"
		return out
	}
	page, err := a.Scraper.Scrape(ctx, url)
	if err != nil {
		out.Skipped = fmt.Sprintf("fetch failed: %v", err)
		return out
	}
	quality := CheckContentQuality(page.Content, a.Config.Scrape)
	if !quality.Acceptable {
		out.Skipped = quality.Reason
		if strings.HasPrefix(quality.Reason, "hard-block") {
			if err := a.Blocklist.Block(ctx, url, quality.Reason); err != nil {
				a.Logger.Warn("blocklist write failed", zap.String("url", url), zap.Error(err))
			}
		}
		return out
	}
	if IsStructuredData(page.Content) {
		out.Skipped = "page is tabular data, not prose"
		return out
	}
	if verdict := a.VerifySubject(ctx, topic, profile, page); !verdict.SameSubject {
		out.Skipped = "wrong subject: " + verdict.Reason
		return out
	}
	out.Page = page
	return out
}

// ExtractNotes runs the gathered pages through the LLM in small batches and
// appends one formatted note block per page. A failed batch falls back to
// per-page extraction, and a failed single page falls back to its raw
// truncated text, so every accepted page yields a note.
func (a *Agent) ExtractNotes(ctx context.Context, topic string, pages []*Page, curiosityTopic string) ([]Source, error) {
	batchSize := a.Config.Scrape.ExtractBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	var sources []Source
	for start := 0; start < len(pages); start += batchSize {
		end := start + batchSize
		if end > len(pages) {
			end = len(pages)
		}
		batch := pages[start:end]
		extracted, err := a.extractBatch(ctx, topic, batch)
		if err != nil {
			a.Logger.Warn("batch extraction failed, extracting per page",
				zap.Int("batch_start", start), zap.Error(err))
			extracted = make([]string, len(batch))
			for i, page := range batch {
				extracted[i] = a.extractSingle(ctx, topic, page)
			}
		}
		for i, page := range batch {
			sources = append(sources, Source{
				Title:          pageTitle(page),
				URL:            page.URL,
				Published:      formatPublished(page.PublishDate),
				Content:        extracted[i],
				IsCuriosity:    curiosityTopic != "",
				CuriosityTopic: curiosityTopic,
			})
		}
	}
	return sources, nil
}

// extractBatch sends several pages in one prompt, delimited so the response
// can be split back per page. The response must keep the delimiters.
func (a *Agent) extractBatch(ctx context.Context, topic string, batch []*Page) ([]string, error) {
	if len(batch) == 1 {
		return []string{a.extractSingle(ctx, topic, batch[0])}, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the facts relevant to %q from each source below.\n", topic)
	sb.WriteString("Write concise factual notes with dates and figures preserved. ")
	sb.WriteString("Separate your notes per source with the exact line `=== SOURCE N ===` matching the input.\n")
	for i, page := range batch {
		fmt.Fprintf(&sb, "\n=== SOURCE %d ===\n%s\n", i+1,
			clipText(page.Content, a.Config.Scrape.ExtractCharLimit))
	}
	resp, err := a.Model.Generate(ctx, sb.String(), &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.Temperature,
		MaxTokens:   a.Config.Model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	parts := splitBatchResponse(resp.Text, len(batch))
	if parts == nil {
		return nil, fmt.Errorf("batch response missing source delimiters")
	}
	return parts, nil
}

func splitBatchResponse(text string, n int) []string {
	parts := make([]string, n)
	found := 0
	for i := 0; i < n; i++ {
		marker := fmt.Sprintf("=== SOURCE %d ===", i+1)
		idx := strings.Index(text, marker)
		if idx < 0 {
			continue
		}
		start := idx + len(marker)
		end := len(text)
		if next := strings.Index(text[start:], "=== SOURCE "); next >= 0 {
			end = start + next
		}
		parts[i] = strings.TrimSpace(text[start:end])
		found++
	}
	if found < n {
		return nil
	}
	return parts
}

// extractSingle extracts one page, falling back to raw truncated text.
func (a *Agent) extractSingle(ctx context.Context, topic string, page *Page) string {
	prompt := fmt.Sprintf(
		"Extract the facts relevant to %q from this page. Write concise factual notes, preserving dates and figures.\n\n%s",
		topic, clipText(page.Content, a.Config.Scrape.ExtractCharLimit))
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.Temperature,
		MaxTokens:   a.Config.Model.MaxTokens,
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		return clipText(page.Content, a.Config.Scrape.ExtractCharLimit)
	}
	return strings.TrimSpace(resp.Text)
}

// formatPublished renders a publish date for a note header. An unknown
// date becomes "unknown" rather than the zero time.
func formatPublished(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02")
}

func pageTitle(page *Page) string {
	if t := strings.TrimSpace(page.Title); t != "" {
		return t
	}
	return page.URL
}

// now returns the wall clock, or the injected override in tests.
func (a *Agent) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
