package research

import (
	"context"
	"fmt"
	"sync"

	"github.com/lexcodex/deepresearch/framework"
)

// ToolEffects collects the side effects tools produce during a loop run.
// The loop's phase reads them afterwards and folds them into a state delta;
// tools never touch the research state directly.
type ToolEffects struct {
	mu            sync.Mutex
	DocumentPath  string
	NotesPath     string
	SearchResults []WebResult
	Finalized     bool
}

func (e *ToolEffects) setDocument(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DocumentPath = path
}

func (e *ToolEffects) setNotes(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NotesPath = path
}

func (e *ToolEffects) addResults(results []WebResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SearchResults = append(e.SearchResults, results...)
}

func (e *ToolEffects) markFinalized() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Finalized = true
}

// toolBase supplies the boilerplate every research tool shares.
type toolBase struct {
	name, description, category string
	params                      []framework.ToolParameter
}

func (t toolBase) Name() string                          { return t.name }
func (t toolBase) Description() string                   { return t.description }
func (t toolBase) Category() string                      { return t.category }
func (t toolBase) Parameters() []framework.ToolParameter { return t.params }
func (t toolBase) IsAvailable(ctx context.Context) bool  { return true }

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func failure(format string, a ...interface{}) (*framework.ToolResult, error) {
	return &framework.ToolResult{Success: false, Error: fmt.Sprintf(format, a...)}, nil
}

func success(output interface{}) (*framework.ToolResult, error) {
	return &framework.ToolResult{Success: true, Output: output}, nil
}

type createDocumentTool struct {
	toolBase
	docs    DocumentStore
	effects *ToolEffects
}

// NewCreateDocumentTool creates the skeleton research document. Creation is
// idempotent: calling it again returns the existing path.
func NewCreateDocumentTool(docs DocumentStore, effects *ToolEffects) framework.Tool {
	return &createDocumentTool{
		toolBase: toolBase{
			name:        "create_document",
			description: "Create the research document skeleton and return its path",
			category:    "document",
			params: []framework.ToolParameter{
				{Name: "topic", Type: "string", Description: "research topic used in the title", Required: true},
			},
		},
		docs:    docs,
		effects: effects,
	}
}

func (t *createDocumentTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	path, err := t.docs.CreateDocument(stringArg(args, "topic"))
	if err != nil {
		return failure("create document: %v", err)
	}
	t.effects.setDocument(path)
	return success("document created at " + path)
}

type createNotesTool struct {
	toolBase
	docs    DocumentStore
	effects *ToolEffects
}

// NewCreateNotesTool creates the append-only notes file.
func NewCreateNotesTool(docs DocumentStore, effects *ToolEffects) framework.Tool {
	return &createNotesTool{
		toolBase: toolBase{
			name:        "create_notes",
			description: "Create the research notes file and return its path",
			category:    "document",
			params: []framework.ToolParameter{
				{Name: "topic", Type: "string", Description: "research topic used in the notes header", Required: true},
			},
		},
		docs:    docs,
		effects: effects,
	}
}

func (t *createNotesTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	path, err := t.docs.CreateNotes(stringArg(args, "topic"))
	if err != nil {
		return failure("create notes: %v", err)
	}
	t.effects.setNotes(path)
	return success("notes created at " + path)
}

type updateSectionTool struct {
	toolBase
	docs DocumentStore
}

// NewUpdateSectionTool patches one section of the document in place.
func NewUpdateSectionTool(docs DocumentStore) framework.Tool {
	return &updateSectionTool{
		toolBase: toolBase{
			name:        "update_section",
			description: "Replace the content of one document section",
			category:    "document",
			params: []framework.ToolParameter{
				{Name: "path", Type: "string", Description: "document path", Required: true},
				{Name: "section", Type: "string", Description: "section name, e.g. Analysis", Required: true},
				{Name: "content", Type: "string", Description: "new section body", Required: true},
			},
		},
		docs: docs,
	}
}

func (t *updateSectionTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	err := t.docs.UpdateSection(stringArg(args, "path"), stringArg(args, "section"), stringArg(args, "content"))
	if err != nil {
		return failure("update section: %v", err)
	}
	return success("section updated")
}

type appendNotesTool struct {
	toolBase
	docs DocumentStore
}

// NewAppendNotesTool appends a block to the notes file.
func NewAppendNotesTool(docs DocumentStore) framework.Tool {
	return &appendNotesTool{
		toolBase: toolBase{
			name:        "append_notes",
			description: "Append a block of notes to the notes file",
			category:    "document",
			params: []framework.ToolParameter{
				{Name: "path", Type: "string", Description: "notes file path", Required: true},
				{Name: "content", Type: "string", Description: "notes block to append", Required: true},
			},
		},
		docs: docs,
	}
}

func (t *appendNotesTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	if err := t.docs.AppendNotes(stringArg(args, "path"), stringArg(args, "content")); err != nil {
		return failure("append notes: %v", err)
	}
	return success("notes appended")
}

type webSearchTool struct {
	toolBase
	provider SearchProvider
	effects  *ToolEffects
}

// NewWebSearchTool exposes the general web search provider.
func NewWebSearchTool(provider SearchProvider, effects *ToolEffects) framework.Tool {
	return &webSearchTool{
		toolBase: toolBase{
			name:        "web_search",
			description: "Search the web and return result titles, URLs, and snippets",
			category:    "search",
			params: []framework.ToolParameter{
				{Name: "query", Type: "string", Description: "search query", Required: true},
			},
		},
		provider: provider,
		effects:  effects,
	}
}

func (t *webSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	results, err := t.provider.Search(ctx, stringArg(args, "query"))
	if err != nil {
		return failure("web search: %v", err)
	}
	t.effects.addResults(results)
	return success(renderResults(results))
}

type newsSearchTool struct {
	toolBase
	provider SearchProvider
	effects  *ToolEffects
}

// NewNewsSearchTool exposes the news search provider.
func NewNewsSearchTool(provider SearchProvider, effects *ToolEffects) framework.Tool {
	return &newsSearchTool{
		toolBase: toolBase{
			name:        "news_search",
			description: "Search recent news and return result titles, URLs, and snippets",
			category:    "search",
			params: []framework.ToolParameter{
				{Name: "query", Type: "string", Description: "search query", Required: true},
			},
		},
		provider: provider,
		effects:  effects,
	}
}

func (t *newsSearchTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	results, err := t.provider.Search(ctx, stringArg(args, "query"))
	if err != nil {
		return failure("news search: %v", err)
	}
	t.effects.addResults(results)
	return success(renderResults(results))
}

type finalizeDocumentTool struct {
	toolBase
	docs    DocumentStore
	effects *ToolEffects
}

// NewFinalizeDocumentTool flips the document status to complete.
func NewFinalizeDocumentTool(docs DocumentStore, effects *ToolEffects) framework.Tool {
	return &finalizeDocumentTool{
		toolBase: toolBase{
			name:        "finalize_document",
			description: "Mark the research document complete",
			category:    "document",
			params: []framework.ToolParameter{
				{Name: "path", Type: "string", Description: "document path", Required: true},
			},
		},
		docs:    docs,
		effects: effects,
	}
}

func (t *finalizeDocumentTool) Execute(ctx context.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	if err := t.docs.Finalize(stringArg(args, "path")); err != nil {
		return failure("finalize: %v", err)
	}
	t.effects.markFinalized()
	return success("document finalized")
}

func renderResults(results []WebResult) string {
	if len(results) == 0 {
		return "no results"
	}
	out := ""
	for i, r := range results {
		out += fmt.Sprintf("%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return out
}
