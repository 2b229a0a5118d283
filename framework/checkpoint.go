package framework

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Checkpoint captures graph execution state for resumable workflows. A run
// interrupted mid-pipeline resumes from the recorded node with the restored
// context instead of re-running earlier phases.
type Checkpoint struct {
	CheckpointID  string           `json:"checkpoint_id"`
	TaskID        string           `json:"task_id"`
	CreatedAt     time.Time        `json:"created_at"`
	CurrentNodeID string           `json:"current_node_id"`
	VisitCounts   map[string]int   `json:"visit_counts"`
	ExecutionPath []string         `json:"execution_path"`
	State         *ContextSnapshot `json:"state"`
	GraphHash     string           `json:"graph_hash"`
}

// createCheckpointLocked captures the current execution state. Callers hold
// the graph execution lock, so only lock-free accessors may be used here.
func (g *Graph) createCheckpointLocked(taskID, currentNodeID string, state *Context) *Checkpoint {
	visits := make(map[string]int, len(g.visitCounts))
	for k, v := range g.visitCounts {
		visits[k] = v
	}
	return &Checkpoint{
		CheckpointID:  uuid.NewString(),
		TaskID:        taskID,
		CreatedAt:     time.Now().UTC(),
		CurrentNodeID: currentNodeID,
		VisitCounts:   visits,
		ExecutionPath: append([]string(nil), g.executionPath...),
		State:         state.Snapshot(),
		GraphHash:     g.structureHashLocked(),
	}
}

// structureHashLocked fingerprints the node/edge structure so a checkpoint is
// only resumed against the same graph shape it was taken from.
func (g *Graph) structureHashLocked() string {
	var parts []string
	for id := range g.nodes {
		parts = append(parts, "n:"+id)
	}
	for from, edges := range g.edges {
		for _, edge := range edges {
			parts = append(parts, fmt.Sprintf("e:%s->%s", from, edge.To))
		}
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

// Resumable reports whether the checkpoint matches this graph's structure.
func (g *Graph) Resumable(cp *Checkpoint) bool {
	if cp == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return cp.GraphHash == g.structureHashLocked()
}

// Snapshot converts the checkpoint into a resumable graph snapshot.
func (cp *Checkpoint) Snapshot() *GraphSnapshot {
	return &GraphSnapshot{NodeID: cp.CurrentNodeID, State: cp.State}
}
