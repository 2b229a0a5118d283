package framework

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventGraphStart  EventType = "graph_start"
	EventGraphFinish EventType = "graph_finish"
	EventNodeStart   EventType = "node_start"
	EventNodeFinish  EventType = "node_finish"
	EventNodeError   EventType = "node_error"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventLLMPrompt   EventType = "llm_prompt"
	EventLLMResponse EventType = "llm_response"
	EventProgress    EventType = "progress"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	NodeID    string                 `json:"node_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry captures execution traces emitted by the graph runtime and the
// research phases. The progress stream shown in the UI is just a sink that
// filters for EventProgress; a failing sink must never abort the pipeline, so
// Emit has no error return.
type Telemetry interface {
	Emit(event Event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		s.Emit(event)
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file so
// external tools can tail and process the stream in real time.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{path: path, file: f, enc: json.NewEncoder(f)}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(event); err != nil {
		log.Printf("telemetry: encode event: %v", err)
	}
}

// Close releases the underlying file.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// ChannelTelemetry publishes events on a channel, dropping events when the
// consumer falls behind. The TUI and the RPC server consume this stream.
type ChannelTelemetry struct {
	ch chan Event
}

// NewChannelTelemetry builds a channel-backed sink with the given buffer.
func NewChannelTelemetry(buffer int) *ChannelTelemetry {
	if buffer <= 0 {
		buffer = 128
	}
	return &ChannelTelemetry{ch: make(chan Event, buffer)}
}

// Events exposes the consumer side of the stream.
func (c *ChannelTelemetry) Events() <-chan Event { return c.ch }

// Emit enqueues the event without blocking the pipeline.
func (c *ChannelTelemetry) Emit(event Event) {
	select {
	case c.ch <- event:
	default:
	}
}

// Close stops the stream. Emit on a closed sink is a no-op by convention:
// callers must stop emitting before closing.
func (c *ChannelTelemetry) Close() { close(c.ch) }
