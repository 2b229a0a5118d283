package research

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// RunSnapshot is the durable record of one research run, written after every
// phase so a crashed run can resume at the phase it died in.
type RunSnapshot struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Completed bool      `json:"completed"`
	State     *State    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStore persists run snapshots. The file-backed implementation lives in
// the persistence package.
type RunStore interface {
	Save(snapshot *RunSnapshot) error
	Load(runID string) (*RunSnapshot, error)
}

// MessageLog archives the LLM conversation of a run once it ends.
type MessageLog interface {
	Append(ctx context.Context, runID string, interactions ...framework.Interaction) error
	Clear(ctx context.Context, runID string) error
}

// Runner executes the phase machine for an agent.
type Runner struct {
	agent    *Agent
	store    RunStore
	messages MessageLog
}

// NewRunner wires a runner; store may be nil to skip persistence.
func NewRunner(agent *Agent, store RunStore) *Runner {
	return &Runner{agent: agent, store: store}
}

// WithMessageLog archives each run's conversation transcript when it ends.
func (r *Runner) WithMessageLog(log MessageLog) *Runner {
	r.messages = log
	return r
}

// runState is what phase nodes share during one graph execution.
type runState struct {
	state *State
}

// phaseNode adapts a PhaseFunc to a graph node. Phase errors are not node
// errors: they are recorded in the state and surface as Success=false so the
// failure edge routes to finalize. Whatever was researched before the
// failure still becomes a document.
type phaseNode struct {
	phase Phase
	fn    PhaseFunc
	run   *runState
	agent *Agent
}

func (n *phaseNode) ID() string               { return string(n.phase) }
func (n *phaseNode) Type() framework.NodeType { return framework.NodeTypePhase }

func (n *phaseNode) Execute(ctx context.Context, fctx *framework.Context) (*framework.Result, error) {
	delta, err := n.fn(ctx, n.run.state)
	if err != nil {
		if n.phase == PhaseFinalize {
			return nil, err
		}
		n.agent.Logger.Error("phase failed, routing to finalize",
			zap.String("phase", string(n.phase)), zap.Error(err))
		n.run.state = n.run.state.Merge(&Delta{Error: strPtr(fmt.Sprintf("%s phase: %v", n.phase, err))})
		n.run.state.CurrentPhase = n.phase
		return &framework.Result{Success: false, Data: map[string]interface{}{"error": err.Error()}}, nil
	}
	n.run.state = n.run.state.Merge(delta)
	n.run.state.CurrentPhase = n.phase
	fctx.SetExecutionPhase(string(n.phase))
	fctx.Set("topic", n.run.state.Topic())
	fctx.Set("scraped_count", len(n.run.state.ScrapedURLs))
	return &framework.Result{Success: true, Data: map[string]interface{}{}}, nil
}

// buildGraph assembles the linear phase machine. Every non-final phase has
// two edges: success to the next phase and failure straight to finalize.
func (r *Runner) buildGraph(run *runState, startAt Phase) (*framework.Graph, error) {
	g := framework.NewGraph()
	g.SetTelemetry(r.agent.Telemetry)
	table := r.agent.phaseTable()
	for _, phase := range PhaseOrder {
		node := &phaseNode{phase: phase, fn: table[phase], run: run, agent: r.agent}
		if err := g.AddNode(node); err != nil {
			return nil, err
		}
	}
	succeeded := func(result *framework.Result, _ *framework.Context) bool { return result.Success }
	failed := func(result *framework.Result, _ *framework.Context) bool { return !result.Success }
	for i, phase := range PhaseOrder[:len(PhaseOrder)-1] {
		next := PhaseOrder[i+1]
		if next == PhaseFinalize {
			// Success or failure, revise always flows into finalize.
			if err := g.AddEdge(string(phase), string(next), nil); err != nil {
				return nil, err
			}
			continue
		}
		if err := g.AddEdge(string(phase), string(next), succeeded); err != nil {
			return nil, err
		}
		if err := g.AddEdge(string(phase), string(PhaseFinalize), failed); err != nil {
			return nil, err
		}
	}
	if err := g.SetStart(string(startAt)); err != nil {
		return nil, err
	}
	return g, nil
}

// Run executes a fresh research run for the prompt and returns the final
// state. The returned error is non-nil only when even the finalize phase
// could not produce a document.
func (r *Runner) Run(ctx context.Context, userPrompt string) (*State, error) {
	snapshot := &RunSnapshot{
		RunID: uuid.NewString(),
		State: NewState(userPrompt),
		Phase: PhasePlan,
	}
	return r.execute(ctx, snapshot, PhasePlan)
}

// Resume continues a persisted run from the phase after the one it last
// completed.
func (r *Runner) Resume(ctx context.Context, runID string) (*State, error) {
	if r.store == nil {
		return nil, fmt.Errorf("no run store configured")
	}
	snapshot, err := r.store.Load(runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if snapshot.Completed {
		return snapshot.State, nil
	}
	startAt := snapshot.Phase
	if next, ok := NextPhase(snapshot.Phase); ok && snapshot.State.CurrentPhase == snapshot.Phase {
		startAt = next
	}
	return r.execute(ctx, snapshot, startAt)
}

func (r *Runner) execute(ctx context.Context, snapshot *RunSnapshot, startAt Phase) (*State, error) {
	run := &runState{state: snapshot.State}
	g, err := r.buildGraph(run, startAt)
	if err != nil {
		return nil, err
	}
	fctx := framework.NewContext()
	fctx.Set("task.id", snapshot.RunID)

	// Persist after every phase. The graph's own checkpoint hook fires per
	// node, which is exactly the phase granularity the snapshot needs.
	g.WithCheckpointing(1, func(cp *framework.Checkpoint) error {
		if r.store == nil {
			return nil
		}
		snapshot.State = run.state
		snapshot.Phase = run.state.CurrentPhase
		snapshot.UpdatedAt = time.Now().UTC()
		if err := r.store.Save(snapshot); err != nil {
			r.agent.Logger.Warn("run snapshot save failed",
				zap.String("run_id", snapshot.RunID), zap.Error(err))
		}
		return nil
	})

	_, execErr := g.Execute(ctx, fctx)
	snapshot.State = run.state
	if execErr == nil && run.state.Error == "" {
		snapshot.Completed = true
	}
	snapshot.Phase = run.state.CurrentPhase
	snapshot.UpdatedAt = time.Now().UTC()
	if r.store != nil {
		if err := r.store.Save(snapshot); err != nil {
			r.agent.Logger.Warn("final snapshot save failed", zap.Error(err))
		}
	}
	r.archiveMessages(ctx, snapshot)
	if execErr != nil {
		return run.state, execErr
	}
	if run.state.Error != "" {
		return run.state, fmt.Errorf("research incomplete: %s", run.state.Error)
	}
	return run.state, nil
}

// archiveMessages rewrites the run's transcript from the final state. A
// resumed run replays the full message list, so the log is cleared first to
// avoid duplicating the earlier attempt's turns.
func (r *Runner) archiveMessages(ctx context.Context, snapshot *RunSnapshot) {
	if r.messages == nil || snapshot.State == nil || len(snapshot.State.Messages) == 0 {
		return
	}
	if err := r.messages.Clear(ctx, snapshot.RunID); err != nil {
		r.agent.Logger.Warn("message log clear failed", zap.Error(err))
		return
	}
	interactions := make([]framework.Interaction, 0, len(snapshot.State.Messages))
	for i, msg := range snapshot.State.Messages {
		interactions = append(interactions, framework.Interaction{
			ID:        i + 1,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: snapshot.UpdatedAt,
		})
	}
	if err := r.messages.Append(ctx, snapshot.RunID, interactions...); err != nil {
		r.agent.Logger.Warn("message log append failed",
			zap.String("run_id", snapshot.RunID), zap.Error(err))
	}
}
