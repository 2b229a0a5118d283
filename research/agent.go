package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// Agent holds the collaborators of the research pipeline. Every external
// effect goes through an injected interface so tests can run the whole
// machine against fakes.
type Agent struct {
	Model      framework.LanguageModel
	SearchWeb  SearchProvider
	SearchNews SearchProvider
	Scraper    Scraper
	KB         KnowledgeBase
	Ingest     Ingestor
	Docs       DocumentStore
	Blocklist  Blocklist
	Telemetry  framework.Telemetry
	Logger     *zap.Logger
	Config     *Config

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

// NewAgent validates the required collaborators and fills in safe defaults
// for the optional ones.
func NewAgent(a Agent) (*Agent, error) {
	if a.Model == nil {
		return nil, fmt.Errorf("agent requires a language model")
	}
	if a.SearchWeb == nil {
		return nil, fmt.Errorf("agent requires a web search provider")
	}
	if a.Scraper == nil {
		return nil, fmt.Errorf("agent requires a scraper")
	}
	if a.Docs == nil {
		return nil, fmt.Errorf("agent requires a document store")
	}
	if a.Blocklist == nil {
		return nil, fmt.Errorf("agent requires a blocklist")
	}
	if a.SearchNews == nil {
		a.SearchNews = a.SearchWeb
	}
	if a.Config == nil {
		a.Config = DefaultConfig("")
	}
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	return &a, nil
}

func (a *Agent) emit(eventType framework.EventType, meta map[string]interface{}) {
	if a.Telemetry == nil {
		return
	}
	a.Telemetry.Emit(framework.Event{
		Type:      eventType,
		Timestamp: a.now().UTC(),
		Metadata:  meta,
	})
}

func (a *Agent) progress(phase Phase, message string) {
	if a.Telemetry == nil {
		return
	}
	a.Telemetry.Emit(framework.Event{
		Type:      framework.EventProgress,
		NodeID:    string(phase),
		Message:   message,
		Timestamp: a.now().UTC(),
	})
}

// --- plan ---

// phasePlan derives the research topic from the user prompt, classifies the
// subject, builds the fixed search queries, and creates the document and
// notes files through the tool loop. If the model never calls the creation
// tools, they are invoked directly; the pipeline cannot proceed without its
// two files.
func (a *Agent) phasePlan(ctx context.Context, state *State) (*Delta, error) {
	topic := CleanTopicFromPrompt(state.UserPrompt)
	if topic == "" {
		return nil, fmt.Errorf("empty research topic")
	}
	subjectType := a.DetectSubjectType(ctx, topic)
	queries := BuildSearchQueries(topic, subjectType)
	a.progress(PhasePlan, "planning research on "+topic)

	effects := &ToolEffects{}
	tools := []framework.Tool{
		NewCreateDocumentTool(a.Docs, effects),
		NewCreateNotesTool(a.Docs, effects),
	}
	prompt := fmt.Sprintf(
		"You are starting a research project on %q. Create the research document and the notes file using the tools, then reply with a one-sentence research plan.\n\nTools:\n%s",
		topic, framework.DescribeTools(tools))
	loop, err := a.RunToolLoop(ctx, state, prompt, tools)
	if err != nil {
		a.Logger.Warn("plan tool loop failed, creating files directly", zap.Error(err))
	}
	if effects.DocumentPath == "" {
		path, derr := a.Docs.CreateDocument(topic)
		if derr != nil {
			a.Logger.Warn("document creation failed, writing fallback file", zap.Error(derr))
			path = fallbackDocumentPath(topic)
			if werr := a.Docs.WriteDocument(path, minimalDocument(topic)); werr != nil {
				return nil, fmt.Errorf("create document: %w", derr)
			}
		}
		effects.DocumentPath = path
	}
	if effects.NotesPath == "" {
		path, derr := a.Docs.CreateNotes(topic)
		if derr != nil {
			a.Logger.Warn("notes creation failed, writing fallback file", zap.Error(derr))
			path = fallbackNotesPath(topic)
			if werr := a.Docs.AppendNotes(path, fmt.Sprintf("# Research notes: %s\n\n", topic)); werr != nil {
				return nil, fmt.Errorf("create notes: %w", derr)
			}
		}
		effects.NotesPath = path
	}

	delta := &Delta{
		ResearchTopic: strPtr(topic),
		CleanTopic:    strPtr(topic),
		SubjectType:   strPtr(subjectType),
		SearchQueries: queries,
		DocumentPath:  strPtr(effects.DocumentPath),
		NotesPath:     strPtr(effects.NotesPath),
	}
	if loop != nil && loop.FinalText != "" {
		delta.AppendMessages = []framework.Message{{Role: "assistant", Content: loop.FinalText}}
	}
	return delta, nil
}

// CleanTopicFromPrompt strips the leading verb chrome from prompts like
// "research the history of X" or "look into Y". A prompt that is already a
// bare subject passes through unchanged, including single words.
func CleanTopicFromPrompt(prompt string) string {
	topic := strings.TrimSpace(prompt)
	lower := strings.ToLower(topic)
	for _, prefix := range []string{
		"research on ", "research into ", "research about ", "research ",
		"look into ", "investigate ", "find out about ", "tell me about ",
	} {
		if strings.HasPrefix(lower, prefix) {
			topic = strings.TrimSpace(topic[len(prefix):])
			break
		}
	}
	return strings.Trim(topic, ".?! ")
}

// BuildSearchQueries returns the four fixed query variants for the topic.
func BuildSearchQueries(topic, subjectType string) []string {
	second := topic + " history"
	if subjectType == "person" {
		second = topic + " biography"
	}
	return []string{
		topic,
		second,
		topic + " recent news",
		topic + " analysis",
	}
}

// --- rag_check ---

// phaseRAGCheck consults the local knowledge base before any web traffic.
// Prior material about the topic becomes a context message so later prompts
// can build on it; a missing or empty knowledge base is not an error.
func (a *Agent) phaseRAGCheck(ctx context.Context, state *State) (*Delta, error) {
	if a.KB == nil {
		return &Delta{RAGLoaded: boolPtr(false)}, nil
	}
	hits, err := a.KB.Search(ctx, state.Topic(), 5)
	if err != nil {
		a.Logger.Warn("knowledge base lookup failed", zap.Error(err))
		return &Delta{RAGLoaded: boolPtr(false)}, nil
	}
	if len(hits) == 0 {
		return &Delta{RAGLoaded: boolPtr(false)}, nil
	}
	a.progress(PhaseRAGCheck, fmt.Sprintf("loaded %d prior passages", len(hits)))
	var sb strings.Builder
	sb.WriteString("Prior knowledge on this topic:\n")
	for _, h := range hits {
		sb.WriteString("- ")
		sb.WriteString(clipText(h.Content, 400))
		sb.WriteString("\n")
	}
	return &Delta{
		RAGLoaded:      boolPtr(true),
		AppendMessages: []framework.Message{{Role: "system", Content: sb.String()}},
	}, nil
}

// --- gather ---

// phaseGather runs every search query, filters and ranks the merged results,
// scrapes the survivors, and appends one note block per accepted page. For
// person subjects a profile is built from the first accepted pages and the
// cross-link ranking adjustment runs before scraping.
func (a *Agent) phaseGather(ctx context.Context, state *State) (*Delta, error) {
	var merged []WebResult
	for i, query := range state.SearchQueries {
		provider := a.SearchWeb
		if strings.Contains(query, "news") {
			provider = a.SearchNews
		}
		results, err := provider.Search(ctx, query)
		if err != nil {
			a.Logger.Warn("search query failed", zap.String("query", query), zap.Error(err))
			continue
		}
		a.progress(PhaseGather, fmt.Sprintf("query %d/%d returned %d results", i+1, len(state.SearchQueries), len(results)))
		merged = append(merged, results...)
	}
	ranked := FilterSearchResults(merged, state.Topic(), state.ScrapedURLs, a.Config.Search)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("no relevant results for %q", state.Topic())
	}
	ranked = a.RerankWithLLM(ctx, state.Topic(), ranked)

	profile := state.PersonProfile
	if state.SubjectType == "person" && profile == nil {
		profile = a.buildProfileFromTop(ctx, state.Topic(), ranked)
	}
	if state.SubjectType == "person" {
		ranked = a.AdjustByCrossLinks(ctx, ranked, profile)
	}

	pages, visited, err := a.GatherSources(ctx, state.Topic(), profile, ranked)
	if err != nil {
		return nil, err
	}
	a.progress(PhaseGather, fmt.Sprintf("accepted %d of %d pages", len(pages), len(visited)))
	sources, err := a.ExtractNotes(ctx, state.Topic(), pages, "")
	if err != nil {
		return nil, err
	}
	if err := a.appendSources(ctx, state.NotesPath, sources); err != nil {
		return nil, err
	}
	delta := &Delta{AddScrapedURLs: visited}
	if profile != nil && state.PersonProfile == nil {
		delta.PersonProfile = profile
	}
	return delta, nil
}

// buildProfileFromTop scrapes the two best candidates to seed the profile.
func (a *Agent) buildProfileFromTop(ctx context.Context, topic string, ranked []RankedResult) *PersonProfile {
	var excerpts []string
	for _, r := range ranked {
		if len(excerpts) == 2 {
			break
		}
		page, err := a.Scraper.Scrape(ctx, r.URL)
		if err != nil || page == nil {
			continue
		}
		excerpts = append(excerpts, clipText(page.Content, a.Config.Scrape.CrossRefExcerpt))
	}
	if len(excerpts) == 0 {
		return &PersonProfile{Aliases: nameAliases(topic)}
	}
	return a.BuildPersonProfile(ctx, topic, excerpts)
}

// appendSources writes note blocks and mirrors them into the retrieval store.
func (a *Agent) appendSources(ctx context.Context, notesPath string, sources []Source) error {
	for _, src := range sources {
		block := FormatNoteBlock(src)
		if err := a.Docs.AppendNotes(notesPath, block); err != nil {
			return fmt.Errorf("append notes: %w", err)
		}
		if a.Ingest != nil {
			if err := a.Ingest.Ingest(ctx, src.URL, src.Content, map[string]interface{}{
				"title": src.Title,
				"url":   src.URL,
			}); err != nil {
				a.Logger.Warn("retrieval ingest failed", zap.String("url", src.URL), zap.Error(err))
			}
		}
	}
	return nil
}

// --- curiosity ---

// phaseCuriosity mines the gathered notes for threads the sources flagged as
// needing more research, picks the strongest few, and runs a narrow
// search-scrape round per thread. Deep-dive blocks are marked so synthesis
// can prioritize them.
func (a *Agent) phaseCuriosity(ctx context.Context, state *State) (*Delta, error) {
	content, err := a.Docs.ReadNotes(state.NotesPath)
	if err != nil {
		return nil, fmt.Errorf("read notes: %w", err)
	}
	topics := ExtractCuriosityTopics(content, a.Config.Curiosity.MaxTopics)
	if len(topics) == 0 {
		topics = TopThemes(ParseNotes(content), a.Config.Curiosity.MaxTopics)
	}
	if len(topics) > a.Config.Curiosity.TopTopics {
		topics = topics[:a.Config.Curiosity.TopTopics]
	}
	if len(topics) == 0 {
		return &Delta{}, nil
	}

	delta := &Delta{}
	scraped := make(map[string]bool, len(state.ScrapedURLs))
	for k, v := range state.ScrapedURLs {
		scraped[k] = v
	}
	for _, topic := range topics {
		a.progress(PhaseCuriosity, "deep dive: "+topic)
		query := state.Topic() + " " + topic
		results, err := a.SearchWeb.Search(ctx, query)
		if err != nil {
			a.Logger.Warn("curiosity search failed", zap.String("query", query), zap.Error(err))
			continue
		}
		ranked := FilterSearchResults(results, query, scraped, a.Config.Search)
		if len(ranked) > a.Config.Curiosity.SourcesPerTopic {
			ranked = ranked[:a.Config.Curiosity.SourcesPerTopic]
		}
		pages, visited, err := a.GatherSources(ctx, state.Topic(), state.PersonProfile, ranked)
		if err != nil {
			continue
		}
		sources, err := a.ExtractNotes(ctx, state.Topic(), pages, topic)
		if err != nil {
			continue
		}
		if err := a.appendSources(ctx, state.NotesPath, sources); err != nil {
			return nil, err
		}
		for _, u := range visited {
			scraped[u] = true
		}
		delta.AddScrapedURLs = append(delta.AddScrapedURLs, visited...)
	}
	return delta, nil
}

// --- analyze ---

// phaseAnalyze distills the full notes file into a bounded findings list,
// records it in the notes for traceability, and carries it forward in the
// conversation for the synthesis phases.
func (a *Agent) phaseAnalyze(ctx context.Context, state *State) (*Delta, error) {
	content, err := a.Docs.ReadNotes(state.NotesPath)
	if err != nil {
		return nil, fmt.Errorf("read notes: %w", err)
	}
	sources := ParseNotes(content)
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources gathered for %q", state.Topic())
	}
	themes := TopThemes(sources, 5)
	entities := ExtractEntities(sources, 10)
	prompt := fmt.Sprintf(
		"Distill the key findings from these research notes about %s. Recurring themes: %s. Key entities: %s.\nList at most %d findings as markdown bullets, each a single factual sentence. No preamble.\n\n%s",
		state.Topic(), strings.Join(themes, ", "), strings.Join(entities, ", "),
		a.Config.Review.MaxFindings, joinSourceBlocks(sources, 12000))
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.Temperature,
		MaxTokens:   a.Config.Model.MaxTokens,
	})
	findings := ""
	if err != nil {
		a.Logger.Warn("analysis generation failed, using theme list", zap.Error(err))
		for _, t := range themes {
			findings += "- recurring theme: " + t + "\n"
		}
	} else {
		findings = strings.TrimSpace(resp.Text)
	}
	// A plain ## header keeps the analysis out of the parsed source list so
	// it never counts as a source or shows up as a citation.
	block := "\n## Key Findings (" + a.now().Format("2006-01-02") + ")\n" + findings + "\n"
	if err := a.Docs.AppendNotes(state.NotesPath, block); err != nil {
		return nil, fmt.Errorf("append analysis: %w", err)
	}
	return &Delta{
		AppendMessages: []framework.Message{{Role: "assistant", Content: findings}},
	}, nil
}

// --- thesis ---

func (a *Agent) phaseThesis(ctx context.Context, state *State) (*Delta, error) {
	sources, err := a.loadSources(state)
	if err != nil {
		return nil, err
	}
	thesis, err := a.SynthesizeThesis(ctx, state, sources)
	if err != nil {
		return nil, err
	}
	a.progress(PhaseThesis, thesis)
	return &Delta{ThesisStatement: strPtr(thesis)}, nil
}

// --- outline ---

// phaseOutline lays the section skeleton into the document so every later
// write is an in-place patch. Existing sections are left untouched, which
// makes the phase safe to re-run on resume.
func (a *Agent) phaseOutline(ctx context.Context, state *State) (*Delta, error) {
	doc, err := a.Docs.ReadDocument(state.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	present := make(map[string]bool)
	for _, name := range SectionNames(doc) {
		present[name] = true
	}
	changed := false
	for _, section := range WriteOrder {
		if present[section] {
			continue
		}
		doc = PatchSection(doc, section, "*(pending)*")
		changed = true
	}
	if changed {
		if err := a.Docs.WriteDocument(state.DocumentPath, doc); err != nil {
			return nil, fmt.Errorf("write outline: %w", err)
		}
	}
	return &Delta{}, nil
}

// --- write ---

// phaseWrite synthesizes each section in order, patching the document after
// every section so a crash loses at most one section of work.
func (a *Agent) phaseWrite(ctx context.Context, state *State) (*Delta, error) {
	sources, err := a.loadSources(state)
	if err != nil {
		return nil, err
	}
	working := state
	var written []string
	for _, section := range WriteOrder {
		a.progress(PhaseWrite, "writing "+section)
		body, err := a.SynthesizeSection(ctx, working, section, sources)
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", section, err)
		}
		if err := a.Docs.UpdateSection(state.DocumentPath, section, body); err != nil {
			return nil, fmt.Errorf("update %s: %w", section, err)
		}
		written = append(written, section)
		working = working.Merge(&Delta{SectionsWritten: written})
	}
	return &Delta{SectionsWritten: written}, nil
}

// --- review ---

func (a *Agent) phaseReview(ctx context.Context, state *State) (*Delta, error) {
	doc, err := a.Docs.ReadDocument(state.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	sources, err := a.loadSources(state)
	if err != nil {
		return nil, err
	}
	report, err := a.ReviewDocument(ctx, state, doc, sources)
	if err != nil {
		return nil, err
	}
	if report.Passed() {
		a.progress(PhaseReview, "review passed")
		return &Delta{ClearReviewNotes: true}, nil
	}
	notes := strings.Split(report.Summary(), "\n")
	a.progress(PhaseReview, fmt.Sprintf("review raised %d issues", len(notes)))
	return &Delta{ClearReviewNotes: true, AppendReviewNotes: notes}, nil
}

// --- revise ---

// phaseRevise acts on the review notes: flagged sections are regenerated
// with the findings spelled out, missing sections are synthesized fresh.
// With no review notes the phase is a no-op.
func (a *Agent) phaseRevise(ctx context.Context, state *State) (*Delta, error) {
	if len(state.ReviewNotes) == 0 {
		return &Delta{}, nil
	}
	doc, err := a.Docs.ReadDocument(state.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	sources, err := a.loadSources(state)
	if err != nil {
		return nil, err
	}
	report := ParseReviewNotes(state.ReviewNotes)
	for _, section := range report.MissingSection {
		body, err := a.SynthesizeSection(ctx, state, section, sources)
		if err != nil {
			a.Logger.Warn("missing section synthesis failed", zap.String("section", section), zap.Error(err))
			continue
		}
		doc = PatchSection(doc, section, body)
	}
	doc, err = a.ReviseSections(ctx, state, doc, report, sources)
	if err != nil {
		return nil, err
	}
	if err := a.Docs.WriteDocument(state.DocumentPath, doc); err != nil {
		return nil, fmt.Errorf("write revision: %w", err)
	}
	return &Delta{ClearReviewNotes: true}, nil
}

// --- finalize ---

// phaseFinalize runs the formatter and flips the document status. It is also
// the error sink: when an earlier phase failed, whatever content exists is
// still formatted and finalized so the run always leaves a document behind.
func (a *Agent) phaseFinalize(ctx context.Context, state *State) (*Delta, error) {
	path := state.DocumentPath
	if path == "" {
		path = fallbackDocumentPath(state.Topic())
	}
	doc, err := a.Docs.ReadDocument(path)
	if err != nil {
		a.Logger.Warn("final document unreadable, writing error document",
			zap.String("path", path), zap.Error(err))
		doc = minimalDocument(state.Topic())
		doc = PatchSection(doc, "Error",
			fmt.Sprintf("The research run could not recover its working document: %v", err))
	}
	doc = a.FormatDocument(ctx, state, doc)
	if state.Error != "" {
		doc = PatchSection(doc, "Run Notes",
			fmt.Sprintf("This document is incomplete. The research run stopped early: %s", state.Error))
	}
	if err := a.Docs.WriteDocument(path, doc); err != nil {
		return nil, fmt.Errorf("write final document: %w", err)
	}
	if err := a.Docs.Finalize(path); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	a.progress(PhaseFinalize, "document finalized at "+path)
	if path != state.DocumentPath {
		return &Delta{DocumentPath: strPtr(path)}, nil
	}
	return &Delta{}, nil
}

func (a *Agent) loadSources(state *State) ([]Source, error) {
	content, err := a.Docs.ReadNotes(state.NotesPath)
	if err != nil {
		return nil, fmt.Errorf("read notes: %w", err)
	}
	return ParseNotes(content), nil
}
