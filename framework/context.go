// Package framework hosts the execution primitives shared by the research
// pipeline: the workflow graph, the blackboard context threaded through it,
// tool and language-model abstractions, and telemetry.
package framework

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Interaction captures a single turn of conversation or observation. Storing a
// timestamp and arbitrary metadata lets the pipeline replay past reasoning and
// render transcripts without re-running the original tools or LLM calls.
type Interaction struct {
	ID        int                    `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Context is the in-memory blackboard shared by nodes inside a graph. It
// separates information into two buckets:
//   - state: durable facts visible to all downstream nodes
//   - variables: transient scratch data used by a single node
//
// The structure embeds a RWMutex because the parallel scrape region touches it
// from worker goroutines.
type Context struct {
	mu               sync.RWMutex
	state            map[string]interface{}
	variables        map[string]interface{}
	history          []Interaction
	interactionIDCtr int
	phase            string
	maxHistory       int
}

// NewContext builds an empty execution context with a bounded history so
// runaway tool chatter does not balloon memory usage.
func NewContext() *Context {
	return &Context{
		state:      make(map[string]interface{}),
		variables:  make(map[string]interface{}),
		history:    make([]Interaction, 0),
		phase:      "plan",
		maxHistory: 200,
	}
}

// SetExecutionPhase stores the current execution phase. The value is
// observability only; control flow is decided by graph edges.
func (c *Context) SetExecutionPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
}

// ExecutionPhase returns the current phase.
func (c *Context) ExecutionPhase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Get retrieves a value from the shared state.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

// GetString retrieves a string value from the shared state.
func (c *Context) GetString(key string) string {
	value, _ := c.Get(key)
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// Set stores a value in the shared state.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// GetVariable returns a temporary variable.
func (c *Context) GetVariable(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// SetVariable stores a variable for scratch usage.
func (c *Context) SetVariable(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// Clone returns a deep copy of the context. Gob encoding keeps the
// implementation compact while handling nested maps/slices without bespoke
// copy logic.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, v := range []interface{}{c.state, c.variables, c.history, c.interactionIDCtr} {
		if err := enc.Encode(v); err != nil {
			return NewContext()
		}
	}
	dec := gob.NewDecoder(bytes.NewBuffer(buf.Bytes()))
	clone := NewContext()
	if err := dec.Decode(&clone.state); err != nil {
		return NewContext()
	}
	if err := dec.Decode(&clone.variables); err != nil {
		return NewContext()
	}
	if err := dec.Decode(&clone.history); err != nil {
		return NewContext()
	}
	if err := dec.Decode(&clone.interactionIDCtr); err != nil {
		return NewContext()
	}
	clone.phase = c.phase
	return clone
}

// ContextSnapshot is a serializable snapshot of Context.
type ContextSnapshot struct {
	State                map[string]interface{} `json:"state"`
	Variables            map[string]interface{} `json:"variables"`
	History              []Interaction          `json:"history"`
	InteractionIDCounter int                    `json:"interaction_id_counter"`
	Phase                string                 `json:"phase"`
}

// Snapshot captures the context for persistence or rollback.
func (c *Context) Snapshot() *ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := func(src map[string]interface{}) map[string]interface{} {
		dst := make(map[string]interface{}, len(src))
		for k, v := range src {
			dst[k] = v
		}
		return dst
	}
	return &ContextSnapshot{
		State:                cp(c.state),
		Variables:            cp(c.variables),
		History:              append([]Interaction(nil), c.history...),
		InteractionIDCounter: c.interactionIDCtr,
		Phase:                c.phase,
	}
}

// Restore puts the context back to a snapshot. It overwrites every section
// instead of mutating in place to avoid sharing map references with stale
// snapshots.
func (c *Context) Restore(snapshot *ContextSnapshot) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = snapshot.State
	if c.state == nil {
		c.state = make(map[string]interface{})
	}
	c.variables = snapshot.Variables
	if c.variables == nil {
		c.variables = make(map[string]interface{})
	}
	c.history = snapshot.History
	c.interactionIDCtr = snapshot.InteractionIDCounter
	c.phase = snapshot.Phase
	c.truncateHistoryLocked()
	return nil
}

// MarshalJSON ensures the context is serializable.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

// UnmarshalJSON supports loading context from disk.
func (c *Context) UnmarshalJSON(data []byte) error {
	var snapshot ContextSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	return c.Restore(&snapshot)
}

// AddInteraction appends to the conversation history.
func (c *Context) AddInteraction(role, content string, metadata map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.interactionIDCtr
	c.interactionIDCtr++
	c.history = append(c.history, Interaction{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	c.truncateHistoryLocked()
}

// History returns the accumulated conversation history.
func (c *Context) History() []Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Interaction(nil), c.history...)
}

// LatestInteraction returns the most recent interaction if any.
func (c *Context) LatestInteraction() (Interaction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return Interaction{}, false
	}
	return c.history[len(c.history)-1], true
}

// truncateHistoryLocked keeps the conversation history bounded while
// preserving the very first message (usually the task instruction). The
// oldest middle portion is dropped.
func (c *Context) truncateHistoryLocked() {
	if len(c.history) <= c.maxHistory {
		return
	}
	start := len(c.history) - c.maxHistory
	c.history = append(c.history[:1], c.history[start:]...)
}
