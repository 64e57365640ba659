// Package tui provides a live terminal view of a pipeline run: the step list
// with a spinner on the step currently executing, updating as the pipeline
// advances. The pipeline itself stays strictly sequential; the view only
// observes it.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/dkoosis/covpipe/covpipe"
	"github.com/dkoosis/covpipe/pkg/report"
)

// Run executes the pipeline under a live view and returns its summary.
// The pipeline's runner should write to io.Discard; the view renders all
// progress itself.
func Run(ctx context.Context, p *covpipe.Pipeline, theme report.Theme) (*covpipe.RunSummary, error) {
	// Raw mode swallows SIGINT, so ctrl+c arrives as a key event. Cancelling
	// the run context is what actually stops the executing step.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(p, theme, cancel)
	program := tea.NewProgram(m, tea.WithContext(ctx))

	p.Observer = func(ev covpipe.StepEvent) {
		program.Send(stepMsg(ev))
	}

	summaryCh := make(chan *covpipe.RunSummary, 1)
	go func() {
		sum := p.Execute(runCtx)
		summaryCh <- sum
		program.Send(doneMsg{})
	}()

	if _, err := program.Run(); err != nil {
		return nil, fmt.Errorf("running pipeline view: %w", err)
	}
	return <-summaryCh, nil
}

type stepMsg covpipe.StepEvent
type doneMsg struct{}

type stepView struct {
	name     string
	status   string // "", "running", or a StepResult status
	duration time.Duration
	exitCode int
}

type model struct {
	theme   report.Theme
	spin    spinner.Model
	steps   []stepView
	current int
	done    bool
	width   int
	cancel  context.CancelFunc
}

func newModel(p *covpipe.Pipeline, theme report.Theme, cancel context.CancelFunc) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	steps := make([]stepView, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = stepView{name: s.Name}
	}
	return model{theme: theme, spin: sp, steps: steps, current: -1, width: 80, cancel: cancel}
}

func (m model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			// Cancel the run context so the executing step's process group
			// is killed; quitting the view alone would leave it running.
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil
	case stepMsg:
		if msg.Index >= 0 && msg.Index < len(m.steps) {
			if msg.Done && msg.Result != nil {
				m.steps[msg.Index].status = msg.Result.Status
				m.steps[msg.Index].duration = msg.Result.Duration
				m.steps[msg.Index].exitCode = msg.Result.ExitCode
			} else {
				m.steps[msg.Index].status = "running"
				m.current = msg.Index
			}
		}
		return m, nil
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var sb strings.Builder
	sb.WriteString(m.theme.Bold.Render("covpipe"))
	sb.WriteString("\n\n")

	for _, s := range m.steps {
		var marker, suffix string
		switch s.status {
		case "running":
			marker = m.spin.View()
		case covpipe.StatusSuccess:
			marker = m.theme.Success.Render(m.theme.Icons.Pass)
			suffix = m.theme.Muted.Render(fmt.Sprintf(" (%s)", s.duration.Round(time.Millisecond)))
		case covpipe.StatusSuppressed:
			marker = m.theme.Warning.Render(m.theme.Icons.Warn)
			suffix = m.theme.Muted.Render(" (suppressed)")
		case covpipe.StatusSkipped:
			marker = m.theme.Muted.Render(m.theme.Icons.Skip)
			suffix = m.theme.Muted.Render(" (skipped)")
		case covpipe.StatusError:
			marker = m.theme.Error.Render(m.theme.Icons.Fail)
			suffix = m.theme.Error.Render(fmt.Sprintf(" (exit %d)", s.exitCode))
		default:
			marker = m.theme.Muted.Render("○")
		}
		sb.WriteString(fmt.Sprintf("  %s %s%s\n", marker, Truncate(s.name, m.width-12), suffix))
	}
	return sb.String()
}

// Truncate shortens s to max display cells, appending an ellipsis. It uses
// runewidth so East Asian wide characters count correctly.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "…")
}
