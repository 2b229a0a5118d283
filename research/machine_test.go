package research

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/deepresearch/framework"
)

const adaURL = "https://example.com/ada-lovelace"
const adaURL2 = "https://archive.org/ada-lovelace-notes"

func adaWorld() (*scriptedModel, *fakeSearch, *fakeScraper) {
	sectionBody := strings.Repeat(
		"Ada Lovelace published the first algorithm intended for a machine in 1843 "+
			"([example.com](https://example.com/ada-lovelace)). Her notes on the analytical "+
			"engine anticipated general-purpose computation by a century. ", 3)
	model := &scriptedModel{fallback: "done"}
	model.on("Is the following page content about this exact subject", "yes").
		on("Extract the facts relevant", "Ada Lovelace wrote the first published algorithm in 1843. Her notes describe the analytical engine.").
		on("primary occupation", "mathematician").
		on("Distill the key findings", "- Ada Lovelace published the first algorithm in 1843.\n- Her notes describe the analytical engine.").
		on("thesis statement", "Ada Lovelace's 1843 notes mark the start of computer programming.").
		on("You are writing the", sectionBody).
		on("Fact-check this excerpt", "NO ERRORS").
		on("three-sentence abstract", "This document surveys Ada Lovelace's work. Her 1843 notes contain the first algorithm. Her influence persists.")

	results := []WebResult{
		{URL: adaURL, Title: "Ada Lovelace", Snippet: "Ada Lovelace, mathematician and writer"},
		{URL: adaURL2, Title: "Ada Lovelace notes", Snippet: "The Lovelace ada papers"},
	}
	search := &fakeSearch{deflt: results}
	scraper := &fakeScraper{pages: map[string]*Page{
		adaURL:  {URL: adaURL, Title: "Ada Lovelace", Content: goodContent("Ada Lovelace"), Links: []string{adaURL2}},
		adaURL2: {URL: adaURL2, Title: "Ada Lovelace notes", Content: goodContent("Ada Lovelace"), Links: []string{adaURL}},
	}}
	return model, search, scraper
}

func TestRunProducesFinalizedDocument(t *testing.T) {
	model, search, scraper := adaWorld()
	agent := testAgent(t, model, search, scraper)
	runner := NewRunner(agent, nil)

	state, err := runner.Run(context.Background(), "research Ada Lovelace")
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", state.CleanTopic)
	assert.Len(t, state.SearchQueries, 4)
	assert.Equal(t, PhaseFinalize, state.CurrentPhase)
	assert.Equal(t, "person", state.SubjectType)

	doc, err := agent.Docs.ReadDocument(state.DocumentPath)
	require.NoError(t, err)
	assert.Contains(t, doc, "## Abstract")
	assert.Contains(t, doc, "## Table of Contents")
	for _, section := range RequiredSections {
		assert.Contains(t, doc, "## "+section, "missing section %s", section)
	}
	assert.NotContains(t, doc, "*Status: in progress*")
	assert.GreaterOrEqual(t, CountCitations(doc), 3)
}

func TestRunMarksURLsScrapedExactlyOnce(t *testing.T) {
	model, search, scraper := adaWorld()
	agent := testAgent(t, model, search, scraper)
	runner := NewRunner(agent, nil)

	state, err := runner.Run(context.Background(), "research Ada Lovelace")
	require.NoError(t, err)
	assert.True(t, state.ScrapedURLs[adaURL])

	// Profile building and cross-link scans may refetch, but the gather
	// pipeline itself must never rescrape a URL already marked scraped.
	filtered := FilterSearchResults(
		[]WebResult{{URL: adaURL, Title: "Ada Lovelace", Snippet: "Ada Lovelace mathematician"}},
		state.Topic(), state.ScrapedURLs, agent.Config.Search)
	assert.Empty(t, filtered)
}

func TestRunWritesDocumentEvenWhenGatherFails(t *testing.T) {
	model, _, scraper := adaWorld()
	// Every search comes back empty, so gather cannot proceed.
	search := &fakeSearch{deflt: nil}
	agent := testAgent(t, model, search, scraper)
	runner := NewRunner(agent, nil)

	state, err := runner.Run(context.Background(), "research Ada Lovelace")
	require.Error(t, err)
	require.NotEmpty(t, state.DocumentPath)

	doc, rerr := agent.Docs.ReadDocument(state.DocumentPath)
	require.NoError(t, rerr)
	assert.Contains(t, doc, "## Run Notes")
	assert.Contains(t, doc, "stopped early")
	assert.NotContains(t, doc, "*Status: in progress*")
}

type brokenCreateStore struct {
	DocumentStore
}

func (brokenCreateStore) CreateDocument(topic string) (string, error) {
	return "", fmt.Errorf("store unavailable")
}

func (brokenCreateStore) CreateNotes(topic string) (string, error) {
	return "", fmt.Errorf("store unavailable")
}

func TestPlanWritesFallbackFilesWhenCreationFails(t *testing.T) {
	agent := testAgent(t, &scriptedModel{fallback: "done"}, &fakeSearch{}, &fakeScraper{})
	agent.Docs = brokenCreateStore{agent.Docs}

	delta, err := agent.phasePlan(context.Background(), NewState("research Ada Lovelace"))
	require.NoError(t, err)
	require.NotNil(t, delta.DocumentPath)
	assert.Equal(t, fallbackDocumentPath("Ada Lovelace"), *delta.DocumentPath)

	doc, rerr := agent.Docs.ReadDocument(*delta.DocumentPath)
	require.NoError(t, rerr)
	assert.Contains(t, doc, "# Ada Lovelace")
	assert.Contains(t, doc, "*Status: in progress*")

	notes, rerr := agent.Docs.ReadNotes(*delta.NotesPath)
	require.NoError(t, rerr)
	assert.Contains(t, notes, "Research notes: Ada Lovelace")
}

func TestFinalizeWritesErrorDocumentWhenReadFails(t *testing.T) {
	agent := testAgent(t, &scriptedModel{fallback: "done"}, &fakeSearch{}, &fakeScraper{})
	state := NewState("research Ada Lovelace")
	state.CleanTopic = "Ada Lovelace"
	state.DocumentPath = filepath.Join(t.TempDir(), "never-created.md")
	state.Error = "research incomplete: no relevant results"

	_, err := agent.phaseFinalize(context.Background(), state)
	require.NoError(t, err)

	doc, rerr := agent.Docs.ReadDocument(state.DocumentPath)
	require.NoError(t, rerr)
	assert.Contains(t, doc, "# Ada Lovelace")
	assert.Contains(t, doc, "## Error")
	assert.Contains(t, doc, "stopped early")
	assert.Contains(t, doc, "*Status: complete")
}

func TestAnalyzeKeepsFindingsOutOfParsedSources(t *testing.T) {
	model := &scriptedModel{fallback: "done"}
	model.on("Distill the key findings", "- Ada Lovelace published the first algorithm in 1843.")
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})
	notesPath, err := agent.Docs.CreateNotes("Ada Lovelace")
	require.NoError(t, err)
	require.NoError(t, agent.Docs.AppendNotes(notesPath, FormatNoteBlock(Source{
		Title: "Ada", URL: "https://a.com/ada", Content: "Ada Lovelace wrote the first algorithm.",
	})))
	state := NewState("research Ada Lovelace")
	state.CleanTopic = "Ada Lovelace"
	state.NotesPath = notesPath

	_, err = agent.phaseAnalyze(context.Background(), state)
	require.NoError(t, err)

	sources, err := agent.loadSources(state)
	require.NoError(t, err)
	require.Len(t, sources, 1, "the findings block is not a source")
	assert.Equal(t, "https://a.com/ada", sources[0].URL)

	notes, err := agent.Docs.ReadNotes(notesPath)
	require.NoError(t, err)
	assert.Contains(t, notes, "## Key Findings")
	assert.NotContains(t, notes, "internal://")
}

func TestCleanTopicFromPrompt(t *testing.T) {
	cases := map[string]string{
		"research Ada Lovelace":              "Ada Lovelace",
		"Research the Amazon River":          "the Amazon River",
		"look into quantum error correction": "quantum error correction",
		"Kyoto":                              "Kyoto",
		"tell me about the Hanseatic League": "the Hanseatic League",
	}
	for prompt, want := range cases {
		assert.Equal(t, want, CleanTopicFromPrompt(prompt), "prompt %q", prompt)
	}
}

func TestBuildSearchQueries(t *testing.T) {
	queries := BuildSearchQueries("Ada Lovelace", "person")
	require.Len(t, queries, 4)
	assert.Equal(t, "Ada Lovelace", queries[0])
	assert.Equal(t, "Ada Lovelace biography", queries[1])

	queries = BuildSearchQueries("Amazon River", "place")
	assert.Equal(t, "Amazon River history", queries[1])
}

func TestResumeContinuesAfterLastPhase(t *testing.T) {
	model, search, scraper := adaWorld()
	agent := testAgent(t, model, search, scraper)
	store := newMemRunStore()
	runner := NewRunner(agent, store)

	state, err := runner.Run(context.Background(), "research Ada Lovelace")
	require.NoError(t, err)

	var runID string
	for id := range store.runs {
		runID = id
	}
	require.NotEmpty(t, runID)

	resumed, err := runner.Resume(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, state.DocumentPath, resumed.DocumentPath)
}

type memRunStore struct {
	runs map[string]*RunSnapshot
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]*RunSnapshot)}
}

func (m *memRunStore) Save(s *RunSnapshot) error {
	m.runs[s.RunID] = s
	return nil
}

func (m *memRunStore) Load(runID string) (*RunSnapshot, error) {
	s, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return s, nil
}

func TestRunArchivesConversation(t *testing.T) {
	model, search, scraper := adaWorld()
	agent := testAgent(t, model, search, scraper)
	log := &memMessageLog{}
	runner := NewRunner(agent, nil).WithMessageLog(log)

	_, err := runner.Run(context.Background(), "research Ada Lovelace")
	require.NoError(t, err)

	require.NotEmpty(t, log.interactions)
	assert.Equal(t, 1, log.clears)
	assert.Equal(t, 1, log.interactions[0].ID)
	assert.Equal(t, "assistant", log.interactions[0].Role)
}

type memMessageLog struct {
	interactions []framework.Interaction
	clears       int
}

func (m *memMessageLog) Append(_ context.Context, _ string, interactions ...framework.Interaction) error {
	m.interactions = append(m.interactions, interactions...)
	return nil
}

func (m *memMessageLog) Clear(_ context.Context, _ string) error {
	m.clears++
	m.interactions = nil
	return nil
}
