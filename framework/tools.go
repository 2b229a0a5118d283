package framework

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tool defines capabilities accessible to the agent. Implementations wrap
// anything from document persistence to a web search provider. The metadata
// doubles as a schema the LLM can reason about when deciding which tool to
// call.
type Tool interface {
	Name() string
	Description() string
	Category() string
	Parameters() []ToolParameter
	Execute(ctx context.Context, args map[string]interface{}) (*ToolResult, error)
	IsAvailable(ctx context.Context) bool
}

// ToolParameter describes an argument the tool accepts.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     interface{}
}

// ToolResult is returned by every tool execution.
type ToolResult struct {
	Success  bool
	Output   interface{}
	Error    string
	Duration time.Duration
}

// ToolRegistry maintains tools and keeps metadata lookups fast. The agent
// holds a shared registry so the tool-calling loop can discover the available
// affordances at runtime.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry builds a registry instance.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *ToolRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get fetches a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns all registered tools sorted by name so prompt renderings are
// stable across runs.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return res
}

// Names returns the registered tool names sorted alphabetically.
func (r *ToolRegistry) Names() []string {
	all := r.All()
	names := make([]string, 0, len(all))
	for _, t := range all {
		names = append(names, t.Name())
	}
	return names
}

// DescribeTools renders a one-line-per-tool summary for prompt embedding.
func DescribeTools(tools []Tool) string {
	var sb strings.Builder
	for _, tool := range tools {
		sb.WriteString("- ")
		sb.WriteString(tool.Name())
		sb.WriteString(": ")
		sb.WriteString(tool.Description())
		params := tool.Parameters()
		if len(params) > 0 {
			var names []string
			for _, p := range params {
				name := p.Name
				if p.Required {
					name += "*"
				}
				names = append(names, name)
			}
			sb.WriteString(" (")
			sb.WriteString(strings.Join(names, ", "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
