package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoteBlockRoundTrip(t *testing.T) {
	src := Source{
		URL:       "https://example.com/a/b",
		Title:     "A Detailed History",
		Published: "2021-03-14",
		Content:   "First fact.\nSecond fact.",
	}
	block := FormatNoteBlock(src)
	assert.Contains(t, block, "### A Detailed History [example.com](https://example.com/a/b)")
	assert.Contains(t, block, "**Published: 2021-03-14**")

	parsed := ParseNotes(block)
	require.Len(t, parsed, 1)
	assert.Equal(t, src.URL, parsed[0].URL)
	assert.Equal(t, src.Title, parsed[0].Title)
	assert.Equal(t, src.Published, parsed[0].Published)
	assert.Equal(t, src.Content, parsed[0].Content)
	assert.False(t, parsed[0].IsCuriosity)
}

func TestCuriosityBlockRoundTrip(t *testing.T) {
	src := Source{
		URL:            "https://example.com/deep",
		Title:          "Deep Dive",
		Content:        "Deep fact.",
		IsCuriosity:    true,
		CuriosityTopic: "funding history",
	}
	parsed := ParseNotes(FormatNoteBlock(src))
	require.Len(t, parsed, 1)
	assert.True(t, parsed[0].IsCuriosity)
	assert.Equal(t, "funding history", parsed[0].CuriosityTopic)
}

func TestParseNotesMultipleBlocks(t *testing.T) {
	notes := FormatNoteBlock(Source{URL: "https://a.com/1", Title: "One", Content: "Fact one."}) +
		FormatNoteBlock(Source{URL: "https://b.com/2", Title: "Two", Content: "Fact two."})
	parsed := ParseNotes(notes)
	require.Len(t, parsed, 2)
	assert.Equal(t, "One", parsed[0].Title)
	assert.Equal(t, "Two", parsed[1].Title)
}

func TestParseNotesSkipsPlainHeaderBlocks(t *testing.T) {
	notes := FormatNoteBlock(Source{URL: "https://a.com/1", Title: "One", Content: "Fact one."}) +
		"\n## Key Findings (2025-06-01)\n- distilled finding\n" +
		FormatNoteBlock(Source{URL: "https://b.com/2", Title: "Two", Content: "Fact two."})
	parsed := ParseNotes(notes)
	require.Len(t, parsed, 2)
	assert.Equal(t, "One", parsed[0].Title)
	assert.Equal(t, "Two", parsed[1].Title)
	assert.NotContains(t, parsed[1].Content, "distilled finding")
}

func TestExtractCuriosityTopics(t *testing.T) {
	notes := `Some facts here.
More research required:
- early funding rounds
- patent disputes
* Early Funding Rounds
- succession planning.

Unrelated line ends the list.
- this bullet is not a topic
`
	topics := ExtractCuriosityTopics(notes, 10)
	assert.Equal(t, []string{"early funding rounds", "patent disputes", "succession planning"}, topics)
}

func TestExtractCuriosityTopicsHonorsMax(t *testing.T) {
	notes := "More research required:\n- one\n- two\n- three\n"
	assert.Len(t, ExtractCuriosityTopics(notes, 2), 2)
}

func TestTopThemesDeterministic(t *testing.T) {
	sources := []Source{
		{Content: "reactor design reactor safety"},
		{Content: "reactor cooling design margins"},
	}
	themes := TopThemes(sources, 3)
	require.NotEmpty(t, themes)
	assert.Equal(t, "reactor", themes[0])
	assert.Equal(t, themes, TopThemes(sources, 3), "same input yields same order")
}

func TestExtractEntitiesRequiresRepeats(t *testing.T) {
	sources := []Source{
		{Content: "Grace Hopper joined the project. Grace Hopper led it. Howard Aiken appears once."},
	}
	entities := ExtractEntities(sources, 5)
	assert.Contains(t, entities, "Grace Hopper")
	assert.NotContains(t, entities, "Howard Aiken")
}

func TestExtractDatesSortedUnique(t *testing.T) {
	sources := []Source{
		{Content: "Events in 1969 and 2001."},
		{Content: "More on 1969."},
	}
	assert.Equal(t, []string{"1969", "2001"}, ExtractDates(sources))
}
