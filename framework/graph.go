package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// NodeType enumerates supported node categories.
type NodeType string

const (
	NodeTypePhase    NodeType = "phase"
	NodeTypeLLM      NodeType = "llm"
	NodeTypeTool     NodeType = "tool"
	NodeTypeTerminal NodeType = "terminal"
)

// Node describes the unit of work executed inside a graph.
type Node interface {
	ID() string
	Type() NodeType
	Execute(ctx context.Context, state *Context) (*Result, error)
}

// Result captures the outcome of a node execution. The Data map is merged
// back into the shared Context under the node's namespace, which keeps each
// node's writes observable without letting it clobber unrelated keys.
type Result struct {
	NodeID  string
	Success bool
	Data    map[string]interface{}
	Error   error
}

// ConditionFunc determines whether an edge should be followed.
type ConditionFunc func(result *Result, state *Context) bool

// Edge describes a transition between nodes.
type Edge struct {
	From      string
	To        string
	Condition ConditionFunc
}

// Graph runs an ordered workflow of nodes. It behaves like a small,
// deterministic state machine: nodes are registered ahead of time, edges
// describe transitions, and Execute walks the graph while recording telemetry
// and enforcing a bounded visit count to guard against accidental cycles.
//
// The research pipeline uses a strictly linear graph; retry and looping
// behavior belongs inside individual nodes, never in the edge set.
type Graph struct {
	mu            sync.RWMutex
	nodes         map[string]Node
	edges         map[string][]Edge
	startNodeID   string
	maxNodeVisits int
	telemetry     Telemetry

	execMu             sync.Mutex
	visitCounts        map[string]int
	executionPath      []string
	checkpointInterval int
	checkpointCallback CheckpointCallback
	lastCheckpointNode string
}

// CheckpointCallback receives checkpoints generated during execution.
type CheckpointCallback func(checkpoint *Checkpoint) error

// NewGraph creates a graph with sane defaults.
func NewGraph() *Graph {
	return &Graph{
		nodes:         make(map[string]Node),
		edges:         make(map[string][]Edge),
		maxNodeVisits: 64,
		visitCounts:   make(map[string]int),
		executionPath: make([]string, 0),
	}
}

// WithCheckpointing configures automatic checkpointing for the graph.
func (g *Graph) WithCheckpointing(interval int, callback CheckpointCallback) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkpointInterval = interval
	g.checkpointCallback = callback
	return g
}

// SetTelemetry wires a telemetry sink for execution traces.
func (g *Graph) SetTelemetry(t Telemetry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.telemetry = t
}

// emit sends telemetry events when a sink is configured; a no-op otherwise.
func (g *Graph) emit(event Event) {
	g.mu.RLock()
	telemetry := g.telemetry
	g.mu.RUnlock()
	if telemetry == nil {
		return
	}
	telemetry.Emit(event)
}

// extractTaskID fetches the current task identifier from the shared context so
// telemetry has stable correlation identifiers across node boundaries.
func (g *Graph) extractTaskID(state *Context) string {
	if state == nil {
		return ""
	}
	if value, ok := state.Get("task.id"); ok {
		return fmt.Sprint(value)
	}
	return ""
}

// SetStart marks the starting node.
func (g *Graph) SetStart(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("start node %s not found", id)
	}
	g.startNodeID = id
	return nil
}

// AddNode registers a node.
func (g *Graph) AddNode(node Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[node.ID()]; exists {
		return fmt.Errorf("node %s already exists", node.ID())
	}
	g.nodes[node.ID()] = node
	return nil
}

// AddEdge wires two nodes together.
func (g *Graph) AddEdge(from, to string, condition ConditionFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("node %s not defined", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("node %s not defined", to)
	}
	g.edges[from] = append(g.edges[from], Edge{From: from, To: to, Condition: condition})
	return nil
}

// GraphSnapshot stores enough state to resume an execution.
type GraphSnapshot struct {
	NodeID string           `json:"node_id"`
	State  *ContextSnapshot `json:"state"`
}

// Execute runs the graph from its start node.
func (g *Graph) Execute(ctx context.Context, state *Context) (*Result, error) {
	return g.ExecuteFromSnapshot(ctx, state, nil)
}

// ExecuteFromSnapshot resumes execution from a snapshot.
func (g *Graph) ExecuteFromSnapshot(ctx context.Context, state *Context, snapshot *GraphSnapshot) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	taskID := g.extractTaskID(state)
	g.emit(Event{Type: EventGraphStart, TaskID: taskID, Timestamp: time.Now().UTC()})
	var execErr error
	defer func() {
		status := "success"
		if execErr != nil {
			status = "error"
		}
		g.emit(Event{
			Type:      EventGraphFinish,
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]interface{}{"status": status},
		})
	}()

	current := g.startNodeID
	if snapshot != nil {
		current = snapshot.NodeID
		if err := state.Restore(snapshot.State); err != nil {
			execErr = fmt.Errorf("restore snapshot: %w", err)
			return nil, execErr
		}
	}
	if current == "" {
		execErr = errors.New("graph has no start node")
		return nil, execErr
	}

	lastResult, err := g.run(ctx, state, current, taskID)
	execErr = err
	return lastResult, err
}

func (g *Graph) run(ctx context.Context, state *Context, current string, taskID string) (*Result, error) {
	g.execMu.Lock()
	defer g.execMu.Unlock()
	g.visitCounts = make(map[string]int)
	g.executionPath = make([]string, 0)
	g.lastCheckpointNode = ""

	g.mu.RLock()
	defer g.mu.RUnlock()

	var lastResult *Result
	for current != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		node, ok := g.nodes[current]
		if !ok {
			return nil, fmt.Errorf("node %s missing", current)
		}
		g.visitCounts[current]++
		if g.visitCounts[current] > g.maxNodeVisits {
			return nil, fmt.Errorf("potential cycle detected at node %s", current)
		}
		g.executionPath = append(g.executionPath, current)
		g.emit(Event{Type: EventNodeStart, NodeID: current, TaskID: taskID, Timestamp: time.Now().UTC()})
		result, err := node.Execute(ctx, state)
		if err != nil {
			err = fmt.Errorf("node %s execution failed: %w", current, err)
			g.emit(Event{
				Type:      EventNodeError,
				NodeID:    current,
				TaskID:    taskID,
				Timestamp: time.Now().UTC(),
				Message:   err.Error(),
			})
			return nil, err
		}
		if result == nil {
			result = &Result{NodeID: current, Success: true, Data: map[string]interface{}{}}
		}
		result.NodeID = current
		lastResult = result
		for key, value := range result.Data {
			state.Set(fmt.Sprintf("%s.%s", current, key), value)
		}
		g.emit(Event{
			Type:      EventNodeFinish,
			NodeID:    current,
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]interface{}{"success": result.Success},
		})
		g.maybeCheckpoint(taskID, current, state)
		next, err := g.nextNode(node, result, state)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return lastResult, nil
}

func (g *Graph) maybeCheckpoint(taskID, currentNode string, state *Context) {
	if g.checkpointInterval == 0 || g.checkpointCallback == nil {
		return
	}
	if !g.shouldCheckpoint() {
		return
	}
	checkpoint := g.createCheckpointLocked(taskID, currentNode, state)
	if err := g.checkpointCallback(checkpoint); err != nil {
		g.emit(Event{
			Type:      EventNodeError,
			NodeID:    currentNode,
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
			Message:   fmt.Sprintf("checkpoint callback failed: %v", err),
		})
		return
	}
	g.lastCheckpointNode = currentNode
}

func (g *Graph) shouldCheckpoint() bool {
	pathLength := len(g.executionPath)
	lastIndex := 0
	if g.lastCheckpointNode != "" {
		for idx := len(g.executionPath) - 1; idx >= 0; idx-- {
			if g.executionPath[idx] == g.lastCheckpointNode {
				lastIndex = idx + 1
				break
			}
		}
	}
	return pathLength-lastIndex >= g.checkpointInterval
}

// nextNode evaluates the outgoing edges for a node. The research pipeline is a
// linear chain, so at most one edge may match; more than one is a wiring bug.
func (g *Graph) nextNode(node Node, result *Result, state *Context) (string, error) {
	if node.Type() == NodeTypeTerminal {
		return "", nil
	}
	var matched []Edge
	for _, edge := range g.edges[node.ID()] {
		if edge.Condition != nil && !edge.Condition(result, state) {
			continue
		}
		matched = append(matched, edge)
	}
	if len(matched) == 0 {
		return "", nil
	}
	if len(matched) > 1 {
		return "", fmt.Errorf("ambiguous transitions from %s", node.ID())
	}
	return matched[0].To, nil
}

// Validate ensures the start node exists and all edge references resolve.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return errors.New("graph has no nodes")
	}
	if g.startNodeID == "" {
		return errors.New("graph has no start node")
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge references missing node %s", from)
		}
		for _, edge := range edges {
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge references missing node %s", edge.To)
			}
		}
	}
	return nil
}

// ExecutionPath returns the node IDs visited by the most recent execution.
func (g *Graph) ExecutionPath() []string {
	g.execMu.Lock()
	defer g.execMu.Unlock()
	return append([]string(nil), g.executionPath...)
}
