package research

import (
	"context"
	"fmt"
)

// Phase identifies a node of the research state machine. Phases are a closed
// enum so a typo in a phase name is a compile error, not a silent routing bug.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseRAGCheck  Phase = "rag_check"
	PhaseGather    Phase = "gather"
	PhaseCuriosity Phase = "curiosity"
	PhaseAnalyze   Phase = "analyze"
	PhaseThesis    Phase = "thesis"
	PhaseOutline   Phase = "outline"
	PhaseWrite     Phase = "write"
	PhaseReview    Phase = "review"
	PhaseRevise    Phase = "revise"
	PhaseFinalize  Phase = "finalize"
)

// PhaseOrder is the strict execution order. There is deliberately no
// conditional branching between phases; looping and retries live inside the
// tool-calling loop within a phase.
var PhaseOrder = []Phase{
	PhasePlan,
	PhaseRAGCheck,
	PhaseGather,
	PhaseCuriosity,
	PhaseAnalyze,
	PhaseThesis,
	PhaseOutline,
	PhaseWrite,
	PhaseReview,
	PhaseRevise,
	PhaseFinalize,
}

// PhaseFunc is a pure function of the current state producing a partial
// update. Implementations must not mutate the passed state.
type PhaseFunc func(ctx context.Context, state *State) (*Delta, error)

// phaseTable maps each phase to its implementation on the agent.
func (a *Agent) phaseTable() map[Phase]PhaseFunc {
	return map[Phase]PhaseFunc{
		PhasePlan:      a.phasePlan,
		PhaseRAGCheck:  a.phaseRAGCheck,
		PhaseGather:    a.phaseGather,
		PhaseCuriosity: a.phaseCuriosity,
		PhaseAnalyze:   a.phaseAnalyze,
		PhaseThesis:    a.phaseThesis,
		PhaseOutline:   a.phaseOutline,
		PhaseWrite:     a.phaseWrite,
		PhaseReview:    a.phaseReview,
		PhaseRevise:    a.phaseRevise,
		PhaseFinalize:  a.phaseFinalize,
	}
}

// ParsePhase converts a stored phase name back into the enum.
func ParsePhase(name string) (Phase, error) {
	for _, p := range PhaseOrder {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", name)
}

// NextPhase returns the phase after p, or false at the end of the pipeline.
func NextPhase(p Phase) (Phase, bool) {
	for i, candidate := range PhaseOrder {
		if candidate == p && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1], true
		}
	}
	return "", false
}
