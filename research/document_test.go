package research

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `# Ada Lovelace

*Status: in progress*

## Introduction

Ada Lovelace worked with Babbage.

## Analysis

Original analysis text.

## Conclusion

Closing remarks.
`

func TestPatchSectionLeavesOtherSectionsUntouched(t *testing.T) {
	patched := PatchSection(sampleDoc, SectionAnalysis, "Replacement analysis.")
	assert.Contains(t, patched, "Replacement analysis.")
	assert.NotContains(t, patched, "Original analysis text.")
	assert.Contains(t, patched, "Ada Lovelace worked with Babbage.")
	assert.Contains(t, patched, "Closing remarks.")

	// Everything before the patched section is byte-identical.
	idx := strings.Index(sampleDoc, "## Analysis")
	assert.Equal(t, sampleDoc[:idx], patched[:idx])
}

func TestPatchSectionAppendsMissingSection(t *testing.T) {
	patched := PatchSection(sampleDoc, SectionBackground, "Background body.")
	assert.Contains(t, patched, "## Background\n\nBackground body.")
	assert.Equal(t, "Background body.", SectionContent(patched, SectionBackground))
}

func TestPatchSectionDoesNotMatchPrefixNames(t *testing.T) {
	doc := "## Sources Cited\n\nlong list\n\n## Sources\n\nshort list\n"
	patched := PatchSection(doc, SectionSources, "replaced")
	assert.Contains(t, patched, "long list")
	assert.Equal(t, "replaced", SectionContent(patched, SectionSources))
}

func TestSectionNamesInOrder(t *testing.T) {
	assert.Equal(t, []string{"Introduction", "Analysis", "Conclusion"}, SectionNames(sampleDoc))
}

func TestCountCitations(t *testing.T) {
	doc := "See [a](https://a.com/x) and [b](http://b.org/y). Not a citation: [c](#anchor)."
	assert.Equal(t, 2, CountCitations(doc))
}

func TestDisplayTitleUpperCasesFirstRune(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", displayTitle("ada Lovelace"))
	assert.Equal(t, "Ötzi the Iceman", displayTitle("ötzi the Iceman"))
	assert.Equal(t, "東京", displayTitle("東京"))
	assert.Equal(t, "Research Report", displayTitle("   "))
}

func TestFileDocumentStoreLifecycle(t *testing.T) {
	store, err := NewFileDocumentStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.CreateDocument("Ada Lovelace")
	require.NoError(t, err)

	// Idempotent: second create returns the same path without truncating.
	require.NoError(t, store.UpdateSection(path, SectionIntroduction, "Intro body."))
	again, err := store.CreateDocument("Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	doc, err := store.ReadDocument(path)
	require.NoError(t, err)
	assert.Contains(t, doc, "Intro body.")

	notes, err := store.CreateNotes("Ada Lovelace")
	require.NoError(t, err)
	require.NoError(t, store.AppendNotes(notes, "block one\n"))
	require.NoError(t, store.AppendNotes(notes, "block two\n"))
	content, err := store.ReadNotes(notes)
	require.NoError(t, err)
	one := strings.Index(content, "block one")
	two := strings.Index(content, "block two")
	assert.True(t, one >= 0 && two > one, "appends must preserve order")

	require.NoError(t, store.Finalize(path))
	final, err := store.ReadDocument(path)
	require.NoError(t, err)
	assert.NotContains(t, final, "in progress")
	assert.Contains(t, final, "*Status: ")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}
