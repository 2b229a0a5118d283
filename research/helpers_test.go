package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// scriptedModel answers prompts by substring match against its rules, in
// order. Unmatched prompts get the fallback text.
type scriptedModel struct {
	mu       sync.Mutex
	rules    []modelRule
	fallback string
	prompts  []string

	toolScript []framework.LLMResponse
	toolCallN  int
	toolMsgs   [][]framework.Message
}

type modelRule struct {
	contains string
	reply    string
}

func (m *scriptedModel) on(substr, reply string) *scriptedModel {
	m.rules = append(m.rules, modelRule{contains: substr, reply: reply})
	return m
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	for _, rule := range m.rules {
		if strings.Contains(prompt, rule.contains) {
			return &framework.LLMResponse{Text: rule.reply}, nil
		}
	}
	return &framework.LLMResponse{Text: m.fallback}, nil
}

func (m *scriptedModel) GenerateStream(ctx context.Context, prompt string, opts *framework.LLMOptions) (<-chan string, error) {
	ch := make(chan string, 1)
	resp, _ := m.Generate(ctx, prompt, opts)
	ch <- resp.Text
	close(ch)
	return ch, nil
}

func (m *scriptedModel) Chat(ctx context.Context, messages []framework.Message, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	var last string
	for _, msg := range messages {
		if msg.Role == "user" {
			last = msg.Content
		}
	}
	return m.Generate(ctx, last, opts)
}

func (m *scriptedModel) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.Tool, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolMsgs = append(m.toolMsgs, messages)
	if m.toolCallN < len(m.toolScript) {
		resp := m.toolScript[m.toolCallN]
		m.toolCallN++
		return &resp, nil
	}
	return &framework.LLMResponse{Text: "done"}, nil
}

type fakeSearch struct {
	results map[string][]WebResult
	deflt   []WebResult
	queries []string
	mu      sync.Mutex
}

func (f *fakeSearch) Search(ctx context.Context, query string) ([]WebResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if r, ok := f.results[query]; ok {
		return r, nil
	}
	return f.deflt, nil
}

type fakeScraper struct {
	pages map[string]*Page
	mu    sync.Mutex
	calls []string
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if p, ok := f.pages[url]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no page for %s", url)
}

func (f *fakeScraper) scrapeCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

type memBlocklist struct {
	mu      sync.Mutex
	blocked map[string]string
}

func newMemBlocklist() *memBlocklist {
	return &memBlocklist{blocked: make(map[string]string)}
}

func (b *memBlocklist) Blocked(ctx context.Context, rawURL string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[rawURL]
	return ok, nil
}

func (b *memBlocklist) Block(ctx context.Context, rawURL, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[rawURL] = reason
	return nil
}

type fakeKB struct {
	hits []KBResult
}

func (f *fakeKB) Search(ctx context.Context, query string, k int) ([]KBResult, error) {
	return f.hits, nil
}

// goodContent passes every content gate.
func goodContent(subject string) string {
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&sb, "%s made a significant contribution to the field in the year %d according to records. ", subject, 2010+i)
	}
	return sb.String()
}

func testAgent(t interface {
	TempDir() string
	Fatalf(format string, args ...interface{})
}, model framework.LanguageModel, search *fakeSearch, scraper *fakeScraper) *Agent {
	docs, err := NewFileDocumentStore(t.TempDir())
	if err != nil {
		t.Fatalf("document store: %v", err)
	}
	agent, err := NewAgent(Agent{
		Model:     model,
		SearchWeb: search,
		Scraper:   scraper,
		Docs:      docs,
		Blocklist: newMemBlocklist(),
		Logger:    zap.NewNop(),
		Config:    DefaultConfig(""),
		Now:       func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	return agent
}
