package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

const defaultEndpoint = "http://localhost:11434"

// Client implements framework.LanguageModel against the Ollama HTTP API.
// Synthesis phases run many long generations back to back, so the request
// timeout is generous.
type Client struct {
	Endpoint string
	Model    string
	Debug    bool

	client *http.Client
	logger *zap.Logger
}

// NewClient builds an Ollama client. An empty endpoint targets the local
// daemon.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		client:   &http.Client{Timeout: 3 * time.Minute},
		logger:   zap.NewNop(),
	}
}

// SetDebugLogging toggles request/response payload logging.
func (c *Client) SetDebugLogging(enabled bool) {
	c.Debug = enabled
}

// SetLogger routes debug payload logs to the given logger.
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// genOptions is Ollama's nested options object. Zero-valued fields are
// omitted so the model's own defaults apply.
type genOptions struct {
	Temperature   float64  `json:"temperature,omitempty"`
	TopP          float64  `json:"top_p,omitempty"`
	NumPredict    int      `json:"num_predict,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

type generateRequest struct {
	Model   string      `json:"model"`
	Prompt  string      `json:"prompt"`
	Stream  bool        `json:"stream"`
	Options *genOptions `json:"options,omitempty"`
}

type chatRequest struct {
	Model    string                   `json:"model"`
	Messages []map[string]interface{} `json:"messages"`
	Tools    []toolDef                `json:"tools,omitempty"`
	Stream   bool                     `json:"stream"`
	Options  *genOptions              `json:"options,omitempty"`
}

// Generate runs a single prompt completion.
func (c *Client) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := generateRequest{
		Model:   c.model(options),
		Prompt:  prompt,
		Options: convertOptions(options),
	}
	return c.post(ctx, "/api/generate", req)
}

// GenerateStream yields completion fragments as the daemon produces them.
// The channel closes when the generation ends or the response breaks.
func (c *Client) GenerateStream(ctx context.Context, prompt string, options *framework.LLMOptions) (<-chan string, error) {
	req := generateRequest{
		Model:   c.model(options),
		Prompt:  prompt,
		Stream:  true,
		Options: convertOptions(options),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, err
	}
	ch := make(chan string)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var chunk apiResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				// Not a JSON chunk; pass the raw line through.
				ch <- scanner.Text()
				continue
			}
			if text := chunk.text(); text != "" {
				ch <- text
			}
		}
	}()
	return ch, nil
}

// Chat runs a multi-turn conversation.
func (c *Client) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := chatRequest{
		Model:    c.model(options),
		Messages: convertMessages(messages),
		Options:  convertOptions(options),
	}
	return c.post(ctx, "/api/chat", req)
}

// ChatWithTools runs a conversation turn with tool definitions attached.
func (c *Client) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.Tool, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	req := chatRequest{
		Model:    c.model(options),
		Messages: convertMessages(messages),
		Tools:    convertTools(tools),
		Options:  convertOptions(options),
	}
	return c.post(ctx, "/api/chat", req)
}

func (c *Client) httpClient() *http.Client {
	if c.client == nil {
		c.client = &http.Client{Timeout: 3 * time.Minute}
	}
	return c.client
}

func (c *Client) model(options *framework.LLMOptions) string {
	if options != nil && options.Model != "" {
		return options.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "llama3.1"
}

func convertOptions(options *framework.LLMOptions) *genOptions {
	if options == nil {
		return nil
	}
	out := &genOptions{
		Temperature:   options.Temperature,
		TopP:          options.TopP,
		NumPredict:    options.MaxTokens,
		RepeatPenalty: options.RepetitionPenalty,
		Stop:          options.Stop,
	}
	if out.Temperature == 0 && out.TopP == 0 && out.NumPredict == 0 &&
		out.RepeatPenalty == 0 && len(out.Stop) == 0 {
		return nil
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*framework.LLMResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.debugLog("ollama request", path, body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if msg := strings.TrimSpace(string(detail)); msg != "" {
			return nil, fmt.Errorf("ollama error: %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("ollama error: %s", resp.Status)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.debugLog("ollama response", path, raw)
	return decodeResponse(raw)
}

func (c *Client) debugLog(msg, path string, payload []byte) {
	if !c.Debug {
		return
	}
	body := string(payload)
	if len(body) > 2048 {
		body = body[:2048] + "...(truncated)"
	}
	c.logger.Debug(msg, zap.String("path", path), zap.String("body", body))
}

func convertMessages(messages []framework.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, msg := range messages {
		m := map[string]interface{}{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if msg.Name != "" {
			m["name"] = msg.Name
			if msg.Role == "tool" {
				m["tool_name"] = msg.Name
			}
		}
		if msg.ToolCallID != "" {
			m["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]interface{}, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				args := interface{}(call.Args)
				if len(call.Args) == 0 {
					args = map[string]interface{}{}
				}
				entry := map[string]interface{}{
					"type":     "function",
					"function": map[string]interface{}{"name": call.Name, "arguments": args},
				}
				if call.ID != "" {
					entry["id"] = call.ID
				}
				calls = append(calls, entry)
			}
			m["tool_calls"] = calls
		}
		out = append(out, m)
	}
	return out
}

type toolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type toolDef struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

func convertTools(tools []framework.Tool) []toolDef {
	defs := make([]toolDef, 0, len(tools))
	for _, tool := range tools {
		properties := make(map[string]interface{})
		var required []string
		for _, param := range tool.Parameters() {
			prop := map[string]interface{}{
				"type":        param.Type,
				"description": param.Description,
			}
			if param.Default != nil {
				prop["default"] = param.Default
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}
		schema := map[string]interface{}{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		defs = append(defs, toolDef{
			Type: "function",
			Function: toolFunction{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schema,
			},
		})
	}
	return defs
}

// apiResponse covers both the /api/generate and /api/chat reply shapes, plus
// the OpenAI-ish fields some Ollama builds emit.
type apiResponse struct {
	Text            string      `json:"text"`
	Response        string      `json:"response"`
	Message         *apiMessage `json:"message"`
	ToolCalls       []apiCall   `json:"tool_calls"`
	DoneReason      string         `json:"done_reason"`
	Usage           map[string]int `json:"usage"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

type apiMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolCalls []apiCall `json:"tool_calls"`
}

type apiCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (r *apiResponse) text() string {
	if r.Text != "" {
		return r.Text
	}
	if r.Response != "" {
		return r.Response
	}
	if r.Message != nil {
		return r.Message.Content
	}
	return ""
}

func decodeResponse(raw []byte) (*framework.LLMResponse, error) {
	var api apiResponse
	if err := json.Unmarshal(raw, &api); err != nil {
		return nil, err
	}
	resp := &framework.LLMResponse{
		Text:         api.text(),
		FinishReason: api.DoneReason,
		Usage:        usageFrom(api),
	}
	resp.ToolCalls = append(resp.ToolCalls, parseToolCalls(api.ToolCalls)...)
	if api.Message != nil {
		resp.ToolCalls = append(resp.ToolCalls, parseToolCalls(api.Message.ToolCalls)...)
	}
	return resp, nil
}

func parseToolCalls(calls []apiCall) []framework.ToolCall {
	out := make([]framework.ToolCall, 0, len(calls))
	for _, call := range calls {
		name, args := call.Name, call.Arguments
		if call.Function.Name != "" {
			name = call.Function.Name
		}
		if len(call.Function.Arguments) > 0 {
			args = call.Function.Arguments
		}
		out = append(out, framework.ToolCall{
			ID:   call.ID,
			Name: name,
			Args: parseArguments(args),
		})
	}
	return out
}

// parseArguments tolerates the argument encodings seen in the wild: a JSON
// object, a JSON string containing an object, or a bare string.
func parseArguments(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		var nested map[string]interface{}
		if err := json.Unmarshal([]byte(str), &nested); err == nil {
			return nested
		}
		return map[string]interface{}{"value": str}
	}
	return map[string]interface{}{"_raw": string(raw)}
}

func usageFrom(api apiResponse) map[string]int {
	if api.Usage != nil {
		return api.Usage
	}
	usage := make(map[string]int)
	if api.EvalCount > 0 {
		usage["completion_tokens"] = api.EvalCount
	}
	if api.PromptEvalCount > 0 {
		usage["prompt_tokens"] = api.PromptEvalCount
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}
