package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/deepresearch/framework"
	"github.com/lexcodex/deepresearch/research"
)

func TestModelTracksPhaseLifecycle(t *testing.T) {
	events := make(chan framework.Event)
	m := New("Ada Lovelace", events)

	next, _ := m.Update(eventMsg(framework.Event{Type: framework.EventNodeStart, NodeID: "plan"}))
	m = next.(Model)
	assert.Equal(t, phaseRunning, m.statuses[research.PhasePlan])
	assert.Equal(t, research.PhasePlan, m.current)

	next, _ = m.Update(eventMsg(framework.Event{Type: framework.EventNodeFinish, NodeID: "plan"}))
	m = next.(Model)
	assert.Equal(t, phaseDone, m.statuses[research.PhasePlan])

	next, _ = m.Update(eventMsg(framework.Event{Type: framework.EventNodeError, NodeID: "gather", Message: "no relevant results"}))
	m = next.(Model)
	assert.Equal(t, phaseFailed, m.statuses[research.PhaseGather])
	assert.True(t, m.failed)
}

func TestModelActivityFeedIsBounded(t *testing.T) {
	m := New("", nil)
	for i := 0; i < maxActivityLines*2; i++ {
		m.apply(framework.Event{Type: framework.EventProgress, Message: "step"})
	}
	assert.Len(t, m.activity, maxActivityLines)
}

func TestModelQuitsWhenStreamCloses(t *testing.T) {
	m := New("", nil)
	next, cmd := m.Update(streamClosedMsg{})
	m = next.(Model)
	assert.True(t, m.done)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestViewListsEveryPhase(t *testing.T) {
	m := New("Ada Lovelace", nil)
	m.apply(framework.Event{Type: framework.EventNodeFinish, NodeID: "plan"})
	view := m.View()

	assert.Contains(t, view, "Ada Lovelace")
	for _, phase := range research.PhaseOrder {
		assert.Contains(t, view, phaseLabel(phase))
	}
	assert.Contains(t, view, "✓ Plan")
}

func TestPhaseLabels(t *testing.T) {
	assert.Equal(t, "Knowledge base", phaseLabel(research.PhaseRAGCheck))
	assert.Equal(t, "Deep dives", phaseLabel(research.PhaseCuriosity))
	assert.Equal(t, "Plan", phaseLabel(research.PhasePlan))
	assert.Equal(t, "Fact check", phaseLabel(research.Phase("fact_check")))
}

func TestKeyDetaches(t *testing.T) {
	m := New("", nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestCompletionFraction(t *testing.T) {
	m := New("", nil)
	assert.Equal(t, 0.0, m.completion())
	m.apply(framework.Event{Type: framework.EventNodeFinish, NodeID: "plan"})
	m.apply(framework.Event{Type: framework.EventNodeFinish, NodeID: "gather"})
	got := m.completion()
	want := 2.0 / float64(len(research.PhaseOrder))
	if got < want-0.001 || got > want+0.001 {
		t.Fatalf("completion = %f, want %f", got, want)
	}
	assert.False(t, strings.Contains(m.View(), "Research complete"))
}