package research

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceDocumentRespectsParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 100) // ~500 bytes
	doc := strings.TrimSpace(strings.Repeat(para+"\n\n", 20))
	slices := SliceDocument(doc, 1000, 2000)
	require.Greater(t, len(slices), 1)
	var total int
	for _, s := range slices[:len(slices)-1] {
		assert.LessOrEqual(t, len(s), 2000)
		total += len(s)
	}
	// Nothing lost apart from the separators trimmed between slices.
	joined := strings.Join(slices, "\n\n")
	assert.Equal(t, strings.Count(doc, "word"), strings.Count(joined, "word"))
}

func TestSliceDocumentSmallDocSingleSlice(t *testing.T) {
	slices := SliceDocument("short document", 1000, 2000)
	assert.Equal(t, []string{"short document"}, slices)
}

func TestIsContaminated(t *testing.T) {
	clean := "The reactor entered service in 1984 and ran for thirty years."
	assert.False(t, IsContaminated(clean))

	two := "1. FACTUAL ERROR [Analysis]: \"a\" - wrong\n2. FACTUAL ERROR [Analysis]: \"b\" - wrong\n"
	assert.False(t, IsContaminated(two), "two error lines may be quoted prose")

	three := two + "3. FACTUAL ERROR [Analysis]: \"c\" - wrong\n"
	assert.True(t, IsContaminated(three))
}

func TestReviseSectionsDiscardsContaminatedRegeneration(t *testing.T) {
	contaminated := "1. FACTUAL ERROR [Analysis]: \"x\" - bad\n2. FACTUAL ERROR [Analysis]: \"y\" - bad\n3. FACTUAL ERROR [Analysis]: \"z\" - bad"
	model := &scriptedModel{fallback: "unused"}
	model.on("Rewrite the \"Analysis\" section", contaminated)
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})

	doc := "# T\n\n## Analysis\n\nOriginal analysis survives.\n"
	report := &ReviewReport{Findings: []Finding{{Section: "Analysis", Claim: "x", Problem: "bad"}}}
	state := NewState("topic")
	out, err := agent.ReviseSections(context.Background(), state, doc, report, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Original analysis survives.")
	assert.NotContains(t, out, "FACTUAL ERROR")
}

func TestReviseSectionsPatchesCleanRegeneration(t *testing.T) {
	model := &scriptedModel{fallback: "unused"}
	model.on("Rewrite the \"Analysis\" section", "Corrected analysis with a citation [a.com](https://a.com/x).")
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})

	doc := "# T\n\n## Analysis\n\nWrong claim here.\n\n## Conclusion\n\nKeep me.\n"
	report := &ReviewReport{Findings: []Finding{{Section: "Analysis", Claim: "Wrong claim", Problem: "contradicts notes"}}}
	out, err := agent.ReviseSections(context.Background(), NewState("topic"), doc, report, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Corrected analysis")
	assert.NotContains(t, out, "Wrong claim here.")
	assert.Contains(t, out, "Keep me.")
}

func TestGroupFindingsBucketsUnknownSectionsIntoAnalysis(t *testing.T) {
	groups := GroupFindings([]Finding{
		{Section: "Analysis", Claim: "a"},
		{Section: "Nonexistent", Claim: "b"},
		{Section: "Conclusion", Claim: "c"},
	})
	assert.Len(t, groups[SectionAnalysis], 2)
	assert.Len(t, groups[SectionConclusion], 1)
	assert.Equal(t, []string{SectionAnalysis, SectionConclusion}, SortedSections(groups))
}

func TestReviewReportSummaryRoundTrip(t *testing.T) {
	report := &ReviewReport{
		TooShort:       true,
		MissingSection: []string{"Background"},
		Findings:       []Finding{{Section: "Analysis", Claim: "the plant opened in 1990", Problem: "notes say 1984"}},
	}
	lines := strings.Split(report.Summary(), "\n")
	parsed := ParseReviewNotes(lines)
	assert.True(t, parsed.TooShort)
	assert.Equal(t, []string{"Background"}, parsed.MissingSection)
	require.Len(t, parsed.Findings, 1)
	assert.Equal(t, "Analysis", parsed.Findings[0].Section)
	assert.Equal(t, "notes say 1984", parsed.Findings[0].Problem)
}

func TestReviewDocumentStructuralGates(t *testing.T) {
	model := &scriptedModel{fallback: "NO ERRORS"}
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})
	state := NewState("topic")

	report, err := agent.ReviewDocument(context.Background(), state, "## Introduction\n\ntiny\n", nil)
	require.NoError(t, err)
	assert.True(t, report.TooShort)
	assert.True(t, report.TooFewCites)
	assert.Contains(t, report.MissingSection, SectionBackground)
	assert.False(t, report.Passed())
}

func TestReviewDocumentHandlesEmptySources(t *testing.T) {
	model := &scriptedModel{fallback: "NO ERRORS"}
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})

	report, err := agent.ReviewDocument(context.Background(), NewState("topic"), buildPassingDoc(), nil)
	require.NoError(t, err)
	assert.False(t, report.TooShort)
	assert.False(t, report.TooFewCites)
	assert.Empty(t, report.MissingSection)
}

func TestJoinSourceBlocksEmptyInput(t *testing.T) {
	assert.Equal(t, "", joinSourceBlocks(nil, 10000))
	assert.Equal(t, "", joinSourceBlocks([]Source{}, 10000))
}

func TestReviewDocumentFlagsRawNoteLeakage(t *testing.T) {
	model := &scriptedModel{fallback: "NO ERRORS"}
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})

	doc := buildPassingDoc() + "\n### Scraped page [a.com](https://a.com/raw)\nunprocessed note text\n"
	report, err := agent.ReviewDocument(context.Background(), NewState("topic"), doc,
		[]Source{{URL: "https://a.com", Title: "A", Content: "notes"}})
	require.NoError(t, err)
	assert.True(t, report.RawNoteLeak)
	assert.False(t, report.Passed())

	parsed := ParseReviewNotes(strings.Split(report.Summary(), "\n"))
	assert.True(t, parsed.RawNoteLeak)
}

func TestReviewDocumentConfirmsFindingsInSecondPass(t *testing.T) {
	model := &scriptedModel{fallback: "ignored"}
	model.on("Fact-check this excerpt", `1. FACTUAL ERROR [Analysis]: "opened in 1990" - notes say 1984
2. FACTUAL ERROR [Analysis]: "sited in Lyon" - notes say Lyon too`).
		on(`Is the claim "opened in 1990"`, "confirmed").
		on(`Is the claim "sited in Lyon"`, "unsupported")
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})

	doc := buildPassingDoc()
	report, err := agent.ReviewDocument(context.Background(), NewState("topic"), doc, []Source{{URL: "https://a.com", Title: "A", Content: "notes"}})
	require.NoError(t, err)
	require.Len(t, report.Findings, 1, "the unverified finding is dropped")
	assert.Equal(t, "opened in 1990", report.Findings[0].Claim)
}

func buildPassingDoc() string {
	body := strings.Repeat("Verified sentence with citation [a.com](https://a.com/x). ", 10)
	doc := "# T\n"
	for _, s := range RequiredSections {
		doc += "\n## " + s + "\n\n" + body + "\n"
	}
	return doc
}
