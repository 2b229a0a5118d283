package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lexcodex/deepresearch/framework"
)

// InstrumentedModel wraps a LanguageModel and emits telemetry for prompts and
// responses. Every LLM call in the research pipeline goes through this wrapper
// so the progress stream and run transcripts show what the model was asked.
type InstrumentedModel struct {
	Inner     framework.LanguageModel
	Telemetry framework.Telemetry
	Debug     bool
}

func NewInstrumentedModel(inner framework.LanguageModel, telemetry framework.Telemetry, debug bool) *InstrumentedModel {
	return &InstrumentedModel{Inner: inner, Telemetry: telemetry, Debug: debug}
}

func (m *InstrumentedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.emitPrompt("generate", map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}, map[string]interface{}{"prompt": clip(prompt, 8192)})
	resp, err := m.Inner.Generate(ctx, prompt, options)
	m.emitResponse("generate", resp, err)
	return resp, err
}

func (m *InstrumentedModel) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan string, error) {
	m.emitPrompt("generate_stream", map[string]interface{}{
		"model":          modelFromOptions(options),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
	}, map[string]interface{}{"prompt": clip(prompt, 8192)})
	ch, err := m.Inner.GenerateStream(ctx, prompt, options)
	// For streams we only record that a stream started; individual chunks are
	// not interesting at this layer.
	if err != nil {
		m.emitResponse("generate_stream", nil, err)
	} else {
		m.emitResponse("generate_stream", &framework.LLMResponse{FinishReason: "stream"}, nil)
	}
	return ch, err
}

func (m *InstrumentedModel) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	meta := chatMeta(messages, nil, options)
	m.emitPrompt("chat", meta.base, meta.debug)
	resp, err := m.Inner.Chat(ctx, messages, options)
	m.emitResponse("chat", resp, err)
	return resp, err
}

func (m *InstrumentedModel) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.Tool, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	meta := chatMeta(messages, tools, options)
	m.emitPrompt("chat_with_tools", meta.base, meta.debug)
	resp, err := m.Inner.ChatWithTools(ctx, messages, tools, options)
	m.emitResponse("chat_with_tools", resp, err)
	return resp, err
}

type chatMetaPayload struct {
	base  map[string]interface{}
	debug map[string]interface{}
}

func chatMeta(messages []framework.Message, tools []framework.Tool, options *framework.LLMOptions) chatMetaPayload {
	var roles []string
	previewCount := len(messages)
	if previewCount > 20 {
		previewCount = 20
	}
	preview := make([]map[string]interface{}, 0, previewCount)
	for i, msg := range messages {
		if i >= 20 {
			break
		}
		roles = append(roles, msg.Role)
		preview = append(preview, map[string]interface{}{
			"role":    msg.Role,
			"name":    msg.Name,
			"content": clip(msg.Content, 512),
		})
	}
	toolNames := make([]string, 0, len(tools))
	for _, t := range tools {
		toolNames = append(toolNames, t.Name())
	}
	base := map[string]interface{}{
		"model":            modelFromOptions(options),
		"message_count":    len(messages),
		"roles":            roles,
		"messages_preview": preview,
		"tool_count":       len(tools),
		"tool_names":       toolNames,
	}
	debug := map[string]interface{}{}
	if len(messages) > 0 {
		full := make([]map[string]interface{}, 0, len(messages))
		for _, msg := range messages {
			full = append(full, map[string]interface{}{
				"role":    msg.Role,
				"name":    msg.Name,
				"content": clip(msg.Content, 8192),
			})
		}
		debug["messages"] = full
	}
	if len(tools) > 0 {
		debug["tools"] = toolNames
	}
	return chatMetaPayload{base: base, debug: debug}
}

func (m *InstrumentedModel) emitPrompt(kind string, base map[string]interface{}, debugFields map[string]interface{}) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{"kind": kind}
	for k, v := range base {
		metadata[k] = v
	}
	if m.Debug {
		for k, v := range debugFields {
			metadata[k] = v
		}
	}
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMPrompt,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s prompt", kind),
		Metadata:  metadata,
	})
}

func (m *InstrumentedModel) emitResponse(kind string, resp *framework.LLMResponse, err error) {
	if m == nil || m.Telemetry == nil {
		return
	}
	metadata := map[string]interface{}{"kind": kind}
	if resp != nil {
		metadata["finish_reason"] = resp.FinishReason
		metadata["text_preview"] = clip(resp.Text, 1024)
		metadata["usage"] = resp.Usage
		if len(resp.ToolCalls) > 0 {
			toolCalls, _ := json.Marshal(resp.ToolCalls)
			metadata["tool_calls"] = string(toolCalls)
		}
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	m.Telemetry.Emit(framework.Event{
		Type:      framework.EventLLMResponse,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("llm %s response", kind),
		Metadata:  metadata,
	})
}

func modelFromOptions(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	return ""
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
