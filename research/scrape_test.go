package research

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBlocklist remembers the exact URLs the pipeline handed it.
type recordingBlocklist struct {
	*memBlocklist
	mu          sync.Mutex
	blockedArgs []string
	blockArgs   []string
}

func (b *recordingBlocklist) Blocked(ctx context.Context, rawURL string) (bool, error) {
	b.mu.Lock()
	b.blockedArgs = append(b.blockedArgs, rawURL)
	b.mu.Unlock()
	return b.memBlocklist.Blocked(ctx, rawURL)
}

func (b *recordingBlocklist) Block(ctx context.Context, rawURL, reason string) error {
	b.mu.Lock()
	b.blockArgs = append(b.blockArgs, rawURL)
	b.mu.Unlock()
	return b.memBlocklist.Block(ctx, rawURL, reason)
}

func TestScrapeOneRecordsFullURLInBlocklist(t *testing.T) {
	const wallURL = "https://walls.example.com/captcha-page"
	captcha := strings.Repeat(
		"Please solve the captcha to continue reading this article today. "+
			"Access denied until verification completes for this session now. "+
			"Are you a robot or a human visitor to this site, please confirm. ", 3)
	scraper := &fakeScraper{pages: map[string]*Page{
		wallURL: {URL: wallURL, Title: "Wall", Content: captcha},
	}}
	agent := testAgent(t, &scriptedModel{fallback: "yes"}, &fakeSearch{}, scraper)
	rec := &recordingBlocklist{memBlocklist: newMemBlocklist()}
	agent.Blocklist = rec

	out := agent.scrapeOne(context.Background(), "Ada Lovelace", nil, wallURL)
	require.Nil(t, out.Page)
	assert.Equal(t, "hard-block phrases", out.Skipped)
	require.Equal(t, []string{wallURL}, rec.blockArgs,
		"the quality failure is recorded under the URL that was fetched")

	// The recorded block short-circuits the next attempt before any fetch.
	out = agent.scrapeOne(context.Background(), "Ada Lovelace", nil, wallURL)
	assert.Equal(t, "domain previously blocklisted", out.Skipped)
	assert.Equal(t, []string{wallURL, wallURL}, rec.blockedArgs)
	assert.Equal(t, 1, scraper.scrapeCount(wallURL))
}

func TestExtractNotesRendersPublishDate(t *testing.T) {
	model := &scriptedModel{}
	model.on("Extract the facts relevant",
		"=== SOURCE 1 ===\nDated facts.\n=== SOURCE 2 ===\nUndated facts.")
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})
	pages := []*Page{
		{URL: "https://a.com/1", Title: "Dated", Content: "c",
			PublishDate: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		{URL: "https://a.com/2", Title: "Undated", Content: "c"},
	}

	sources, err := agent.ExtractNotes(context.Background(), "topic", pages, "")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "2024-05-01", sources[0].Published)
	assert.Equal(t, "unknown", sources[1].Published)

	parsed := ParseNotes(FormatNoteBlock(sources[0]))
	require.Len(t, parsed, 1)
	assert.Equal(t, "2024-05-01", parsed[0].Published)
}
