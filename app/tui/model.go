// Package tui renders the live progress of a research run: the phase
// checklist, a progress bar, and a scrolling feed of telemetry events.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lexcodex/deepresearch/framework"
	"github.com/lexcodex/deepresearch/research"
)

// maxActivityLines bounds the scrolling event feed.
const maxActivityLines = 8

type phaseStatus int

const (
	phasePending phaseStatus = iota
	phaseRunning
	phaseDone
	phaseFailed
)

// eventMsg wraps one telemetry event for the update loop.
type eventMsg framework.Event

// streamClosedMsg signals that the run finished and closed its event stream.
type streamClosedMsg struct{}

// Model is the bubbletea model for the progress view.
type Model struct {
	events <-chan framework.Event

	spinner  spinner.Model
	progress progress.Model

	topic    string
	statuses map[research.Phase]phaseStatus
	current  research.Phase
	activity []string
	done     bool
	failed   bool
	width    int
}

// New builds a progress view reading from the given telemetry stream. The
// view quits on its own when the stream closes. The topic is display-only
// and may be empty.
func New(topic string, events <-chan framework.Event) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = inProgressStyle
	return Model{
		events:   events,
		topic:    topic,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		statuses: make(map[research.Phase]phaseStatus),
		width:    80,
	}
}

// Init starts the spinner and the event pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// waitForEvent blocks on the telemetry stream and feeds the next event into
// the update loop.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(event)
	}
}

// Update reacts to telemetry, resize, and key events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 8
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case eventMsg:
		cmd := m.apply(framework.Event(msg))
		return m, tea.Batch(cmd, m.waitForEvent())

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one telemetry event into the view state.
func (m *Model) apply(event framework.Event) tea.Cmd {
	switch event.Type {
	case framework.EventNodeStart:
		phase := research.Phase(event.NodeID)
		m.statuses[phase] = phaseRunning
		m.current = phase

	case framework.EventNodeFinish:
		m.statuses[research.Phase(event.NodeID)] = phaseDone
		return m.progress.SetPercent(m.completion())

	case framework.EventNodeError:
		m.statuses[research.Phase(event.NodeID)] = phaseFailed
		m.failed = true
		if event.Message != "" {
			m.pushActivity(errorStyle.Render(event.Message))
		}

	case framework.EventProgress:
		if event.Message != "" {
			m.pushActivity(event.Message)
		}

	case framework.EventToolCall:
		if name, ok := event.Metadata["tool"].(string); ok {
			m.pushActivity(dimStyle.Render("tool: " + name))
		}

	case framework.EventGraphFinish:
		m.done = true
		return m.progress.SetPercent(1.0)
	}
	return nil
}

func (m *Model) pushActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > maxActivityLines {
		m.activity = m.activity[len(m.activity)-maxActivityLines:]
	}
}

// completion is the fraction of phases finished.
func (m *Model) completion() float64 {
	done := 0
	for _, status := range m.statuses {
		if status == phaseDone {
			done++
		}
	}
	return float64(done) / float64(len(research.PhaseOrder))
}

// View renders the checklist, progress bar, and activity feed.
func (m Model) View() string {
	var b strings.Builder

	title := "Researching"
	if m.topic != "" {
		title = "Researching: " + m.topic
	}
	if m.done && !m.failed {
		title = "Research complete"
	} else if m.done && m.failed {
		title = "Research finished with errors"
	}
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n\n")

	for _, phase := range research.PhaseOrder {
		b.WriteString(m.renderPhase(phase))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString("  " + m.progress.View())
	b.WriteString("\n")

	if len(m.activity) > 0 {
		b.WriteString("\n")
		b.WriteString(activityBoxStyle.Width(m.width - 4).Render(strings.Join(m.activity, "\n")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  q to detach (the run keeps going)"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderPhase(phase research.Phase) string {
	label := phaseLabel(phase)
	switch m.statuses[phase] {
	case phaseDone:
		return completedStyle.Render("  ✓ " + label)
	case phaseRunning:
		return inProgressStyle.Render(fmt.Sprintf("  %s %s", m.spinner.View(), label))
	case phaseFailed:
		return errorStyle.Render("  ✗ " + label)
	default:
		return pendingStyle.Render("  · " + label)
	}
}

// phaseLabel turns a phase identifier into a display name.
func phaseLabel(phase research.Phase) string {
	switch phase {
	case research.PhaseRAGCheck:
		return "Knowledge base"
	case research.PhaseCuriosity:
		return "Deep dives"
	default:
		s := strings.ReplaceAll(string(phase), "_", " ")
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	}
}
