// Package tui renders a live view of a development workflow run: the plan
// approval gate, the per-task progress feed, and the final metrics.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dbillionaer/llm-council-local/internal/config"
	"github.com/Dbillionaer/llm-council-local/internal/workflow"
)

// appState represents the current screen of the run view.
type appState int

const (
	statePlanning appState = iota
	stateAwaitingApproval
	stateDeveloping
	stateDone
	stateFailed
)

// Runner abstracts the workflow engine so tests can drive the model with a
// scripted implementation.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) *workflow.Result
}

// Model is the Bubble Tea model for one workflow run.
type Model struct {
	state   appState
	query   string
	roles   config.Roles
	runner  Runner
	program *tea.Program

	snapshot *workflow.Snapshot
	result   *workflow.Result
	feed     []feedLine
	errText  string

	spinner   spinner.Model
	input     textinput.Model
	startTime time.Time
	width     int
	height    int
}

type feedLine struct {
	status  string
	message string
}

// eventMsg carries a workflow event from the engine goroutine.
type eventMsg workflow.Event

// gateMsg is sent when a run suspends at the plan approval gate.
type gateMsg struct {
	result *workflow.Result
}

// doneMsg is sent when a run completes.
type doneMsg struct {
	result *workflow.Result
}

// Run executes the workflow under a TUI and blocks until it finishes or the
// user quits.
func Run(query string, roles config.Roles, runner Runner) error {
	return RunModel(NewModel(query, roles, runner))
}

// RunModel starts the event loop for an already constructed model. Callers
// that need the model's Sink before starting use this directly.
func RunModel(m *Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p

	_, err := p.Run()
	return err
}

// NewModel creates the run model. The program handle is set by Run before the
// event loop starts.
func NewModel(query string, roles config.Roles, runner Runner) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = selectedStyle

	ti := textinput.New()
	ti.Placeholder = "approved / refine / feedback"
	ti.CharLimit = 500
	ti.Width = 60

	return &Model{
		state:     statePlanning,
		query:     query,
		roles:     roles,
		runner:    runner,
		spinner:   s,
		input:     ti,
		startTime: time.Now(),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startRun(""))
}

// startRun launches one engine invocation in a goroutine. Results come back
// as gateMsg or doneMsg; progress arrives as eventMsg via the sink.
func (m *Model) startRun(userResponse string) tea.Cmd {
	snap := m.snapshot
	return func() tea.Msg {
		res := m.runner.Run(context.Background(), workflow.Request{
			Query:        m.query,
			Roles:        m.roles,
			UserResponse: userResponse,
			Snapshot:     snap,
		})
		if res.Status == workflow.StatusAwaitingPlanValidation {
			return gateMsg{result: res}
		}
		return doneMsg{result: res}
	}
}

// Sink returns an event sink that forwards engine events into the program.
// Safe to call from the engine goroutine.
func (m *Model) Sink() workflow.EventSink {
	return workflow.SinkFunc(func(e workflow.Event) {
		if m.program != nil {
			m.program.Send(eventMsg(e))
		}
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case spinner.TickMsg:
		if m.state == statePlanning || m.state == stateDeveloping {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case eventMsg:
		m.applyEvent(workflow.Event(msg))
		return m, nil

	case gateMsg:
		m.state = stateAwaitingApproval
		m.result = msg.result
		m.snapshot = msg.result.Snapshot
		m.input.Focus()
		return m, textinput.Blink

	case doneMsg:
		m.result = msg.result
		if msg.result.Success {
			m.state = stateDone
		} else {
			m.state = stateFailed
			m.errText = msg.result.Status
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case stateAwaitingApproval:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			response := strings.TrimSpace(m.input.Value())
			if response == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.input.Blur()
			m.state = stateDeveloping
			m.feed = nil
			return m, tea.Batch(m.spinner.Tick, m.startRun(response))
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case stateDone, stateFailed:
		switch msg.String() {
		case "q", "ctrl+c", "esc", "enter":
			return m, tea.Quit
		}
		return m, nil

	default:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}
}

// applyEvent folds a workflow event into the visible feed.
func (m *Model) applyEvent(e workflow.Event) {
	switch e.Type {
	case workflow.EventProgress:
		report, ok := e.Payload["report"].(workflow.ProgressReport)
		if !ok {
			return
		}
		m.feed = append(m.feed, feedLine{status: report.Status, message: report.Message})
		if len(m.feed) > 200 {
			m.feed = m.feed[len(m.feed)-200:]
		}
	case workflow.EventPhase:
		if name, ok := e.Payload["name"].(string); ok {
			m.feed = append(m.feed, feedLine{status: "phase", message: name})
		}
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Dev Team") + "\n")
	b.WriteString(subtleStyle.Render(truncate(m.query, 80)) + "\n\n")

	switch m.state {
	case statePlanning:
		b.WriteString(m.spinner.View() + " Architect is drafting a plan...\n")
	case stateAwaitingApproval:
		b.WriteString(m.viewPlan())
	case stateDeveloping:
		b.WriteString(m.spinner.View() + " Implementing plan...\n\n")
		b.WriteString(m.viewFeed())
	case stateDone:
		b.WriteString(successStyle.Render("Run completed") + "\n\n")
		b.WriteString(m.viewMetrics())
		b.WriteString("\n" + subtleStyle.Render("press q to quit"))
	case stateFailed:
		b.WriteString(errorStyle.Render("Run failed: "+m.errText) + "\n")
		b.WriteString(subtleStyle.Render("press q to quit"))
	}
	return b.String()
}

func (m *Model) viewPlan() string {
	var b strings.Builder
	b.WriteString(selectedStyle.Render("Proposed plan: "+m.result.ProjectName) + "\n")
	if m.result.Summary != "" {
		b.WriteString(subtleStyle.Render(m.result.Summary) + "\n")
	}
	b.WriteString("\n")
	for _, t := range m.result.TaskList {
		marker := "•"
		if t.Type == workflow.TaskTest {
			marker = "✓"
		}
		b.WriteString(fmt.Sprintf("  %s [%d] %s\n", marker, t.ID, truncate(t.Description, 70)))
	}
	b.WriteString("\n" + boxStyle.Render(m.input.View()) + "\n")
	b.WriteString(subtleStyle.Render("approved to build, refine to improve, or type feedback. esc quits."))
	return b.String()
}

func (m *Model) viewFeed() string {
	lines := m.feed
	if max := m.height - 8; max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	var b strings.Builder
	for _, line := range lines {
		switch line.status {
		case workflow.StatusSuccess, workflow.StatusComplete:
			b.WriteString(successStyle.Render("✓ ") + line.message + "\n")
		case workflow.StatusFailed:
			b.WriteString(errorStyle.Render("✗ ") + line.message + "\n")
		case "phase":
			b.WriteString(selectedStyle.Render("── "+line.message) + "\n")
		default:
			b.WriteString(subtleStyle.Render("… ") + line.message + "\n")
		}
	}
	return b.String()
}

func (m *Model) viewMetrics() string {
	if m.result == nil || m.result.Metrics == nil {
		return ""
	}
	mt := m.result.Metrics
	elapsed := time.Since(m.startTime).Round(time.Second)
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  Project        %s\n", m.result.ProjectName))
	b.WriteString(fmt.Sprintf("  Tasks          %d (%d develop, %d test)\n",
		mt.TotalTasks, mt.DevelopmentTasks, mt.TestTasks))
	b.WriteString(fmt.Sprintf("  Tests          %d passed, %d failed\n", mt.TestsPassed, mt.TestsFailed))
	b.WriteString(fmt.Sprintf("  Files          %d\n", mt.FilesCreated))
	if mt.SandboxPassed != nil {
		verdict := errorStyle.Render("failed")
		if *mt.SandboxPassed {
			verdict = successStyle.Render("passed")
		}
		b.WriteString("  Sandbox        " + verdict + "\n")
	}
	if m.result.ArchivePath != "" {
		b.WriteString(fmt.Sprintf("  Archive        %s\n", m.result.ArchivePath))
	}
	b.WriteString(fmt.Sprintf("  Elapsed        %s\n", elapsed))
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
