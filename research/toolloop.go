package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// ToolLoopResult is the outcome of one agentic tool-calling run.
type ToolLoopResult struct {
	FinalText string
	Calls     []ExecutedCall
}

// ExecutedCall records one tool execution inside the loop.
type ExecutedCall struct {
	Tool   string
	Args   map[string]interface{}
	Result *framework.ToolResult
	Cached bool
}

// RunToolLoop drives the model through bounded tool calling. Each response's
// tool calls are validated, canonicalized, executed, and their results fed
// back as tool messages. Repeat calls with identical normalized arguments
// are answered from a cache instead of re-executed, which both saves work
// and breaks the repetition loops small models fall into. A prose answer
// before any tool has run gets a bounded corrective prompt; after that the
// loop ends when the model answers without tool calls or the call budget
// runs out.
func (a *Agent) RunToolLoop(ctx context.Context, state *State, prompt string, tools []framework.Tool) (*ToolLoopResult, error) {
	messages := []framework.Message{{Role: "user", Content: prompt}}
	result := &ToolLoopResult{}
	cache := make(map[string]*framework.ToolResult)
	budget := a.Config.ToolLoop.MaxToolCalls
	retries := 0

	for len(result.Calls) < budget {
		resp, err := a.Model.ChatWithTools(ctx, messages, tools, &framework.LLMOptions{
			Model:       a.Config.Model.Name,
			Temperature: a.Config.Model.Temperature,
			MaxTokens:   a.Config.Model.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("tool loop chat: %w", err)
		}
		if len(resp.ToolCalls) == 0 {
			// Prose before any executed call means the model dodged the
			// tools entirely. Prose after at least one call is the answer.
			if len(result.Calls) == 0 && retries < a.Config.ToolLoop.MaxRetries {
				retries++
				messages = append(messages,
					framework.Message{Role: "assistant", Content: resp.Text},
					framework.Message{Role: "user", Content: buildToolRetryPrompt(state.CleanTopic, tools)})
				continue
			}
			a.Logger.Warn("model answered in prose without calling a tool",
				zap.Int("retries", retries))
			result.FinalText = resp.Text
			return result, nil
		}
		messages = append(messages, framework.Message{Role: "assistant", Content: resp.Text})
		for _, call := range resp.ToolCalls {
			if len(result.Calls) >= budget {
				break
			}
			tool := findTool(tools, call.Name)
			if tool == nil {
				messages = append(messages, framework.Message{
					Role:    "tool",
					Content: fmt.Sprintf("error: no tool named %q. Available tools: %s. Retry with one of those.", call.Name, toolNames(tools)),
				})
				continue
			}
			args := a.canonicalizeArgs(state, tool.Name(), call.Args)
			if msg := validateArgs(tool, args); msg != "" {
				messages = append(messages, framework.Message{
					Role:    "tool",
					Content: fmt.Sprintf("error calling %s: %s. Retry with corrected arguments.", tool.Name(), msg),
				})
				continue
			}
			key := call.Name + "|" + normalizeArgs(args)
			toolResult, cached := cache[key]
			if !cached {
				a.emit(framework.EventToolCall, map[string]interface{}{"tool": call.Name, "args": args})
				toolResult = a.executeTool(ctx, tool, args)
				cache[key] = toolResult
				a.emit(framework.EventToolResult, map[string]interface{}{"tool": call.Name, "success": toolResult.Success})
			} else {
				a.Logger.Debug("duplicate tool call served from cache", zap.String("tool", call.Name))
			}
			result.Calls = append(result.Calls, ExecutedCall{Tool: call.Name, Args: args, Result: toolResult, Cached: cached})
			messages = append(messages, framework.Message{Role: "tool", Content: renderToolResult(toolResult, cached)})
		}
	}
	// Budget exhausted. One final call without tools forces a text answer.
	resp, err := a.Model.Chat(ctx, messages, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.Temperature,
		MaxTokens:   a.Config.Model.MaxTokens,
	})
	if err != nil {
		return result, nil
	}
	result.FinalText = resp.Text
	return result, nil
}

func (a *Agent) executeTool(ctx context.Context, tool framework.Tool, args map[string]interface{}) *framework.ToolResult {
	start := time.Now()
	res, err := tool.Execute(ctx, args)
	if err != nil {
		return &framework.ToolResult{Success: false, Error: err.Error(), Duration: time.Since(start)}
	}
	if res == nil {
		res = &framework.ToolResult{Success: true}
	}
	res.Duration = time.Since(start)
	return res
}

// canonicalizeArgs overrides model-invented values for arguments the state
// already owns. Models routinely make up file paths and restate the topic
// with extra words; the pipeline's canonical values win.
func (a *Agent) canonicalizeArgs(state *State, toolName string, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	if _, ok := out["path"]; ok {
		switch toolName {
		case "update_section", "finalize_document":
			if state.DocumentPath != "" {
				out["path"] = state.DocumentPath
			}
		case "append_notes":
			if state.NotesPath != "" {
				out["path"] = state.NotesPath
			}
		}
	}
	if _, ok := out["topic"]; ok && state.CleanTopic != "" {
		out["topic"] = state.CleanTopic
	}
	return out
}

// validateArgs checks required parameters and basic types; the returned
// string is a retry hint for the model, empty when the call is well formed.
func validateArgs(tool framework.Tool, args map[string]interface{}) string {
	for _, p := range tool.Parameters() {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return fmt.Sprintf("missing required argument %q (%s)", p.Name, p.Description)
			}
			continue
		}
		switch p.Type {
		case "string":
			s, ok := v.(string)
			if !ok {
				return fmt.Sprintf("argument %q must be a string", p.Name)
			}
			if p.Required && strings.TrimSpace(s) == "" {
				return fmt.Sprintf("argument %q must not be empty", p.Name)
			}
		case "number", "integer":
			switch v.(type) {
			case float64, int, int64, json.Number:
			default:
				return fmt.Sprintf("argument %q must be a number", p.Name)
			}
		case "boolean":
			if _, ok := v.(bool); !ok {
				return fmt.Sprintf("argument %q must be a boolean", p.Name)
			}
		}
	}
	return ""
}

// normalizeArgs renders arguments to a canonical string so semantically
// identical calls hit the same cache key: keys sorted, strings trimmed and
// lowercased, numbers rendered uniformly.
func normalizeArgs(args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		switch v := args[k].(type) {
		case string:
			sb.WriteString(strings.ToLower(strings.Join(strings.Fields(v), " ")))
		case float64:
			fmt.Fprintf(&sb, "%g", v)
		default:
			data, _ := json.Marshal(v)
			sb.Write(data)
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

func findTool(tools []framework.Tool, name string) framework.Tool {
	for _, t := range tools {
		if strings.EqualFold(t.Name(), name) {
			return t
		}
	}
	return nil
}

// buildToolRetryPrompt pushes a model that answered in prose back into tool
// calling. It restates the allowed tools and the exact topic so the retry
// cannot drift onto a paraphrased subject.
func buildToolRetryPrompt(topic string, tools []framework.Tool) string {
	var sb strings.Builder
	sb.WriteString("You must respond with a tool call, not prose. ")
	fmt.Fprintf(&sb, "Allowed tools: %s. ", toolNames(tools))
	if topic != "" {
		fmt.Fprintf(&sb, "Use the exact topic %q in tool arguments. ", topic)
	}
	sb.WriteString("Do not write any explanation or summary text.")
	return sb.String()
}

func toolNames(tools []framework.Tool) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return strings.Join(names, ", ")
}

func renderToolResult(res *framework.ToolResult, cached bool) string {
	if !res.Success {
		return "error: " + res.Error
	}
	var body string
	switch out := res.Output.(type) {
	case string:
		body = out
	case nil:
		body = "ok"
	default:
		data, err := json.Marshal(out)
		if err != nil {
			body = fmt.Sprintf("%v", out)
		} else {
			body = string(data)
		}
	}
	if cached {
		return body + "\n(note: identical call already made; result repeated. Do not call this tool with these arguments again.)"
	}
	return body
}
