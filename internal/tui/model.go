// Package tui renders a live training dashboard with Bubble Tea.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docembed/internal/train"
)

// ProgressMsg carries a training progress update into the program.
type ProgressMsg train.Progress

// DoneMsg ends the dashboard once training has returned.
type DoneMsg struct {
	Err error
}

// Model is the Bubble Tea model of the dashboard.
type Model struct {
	runID      string
	bar        progress.Model
	current    *train.Progress
	validation *train.Progress
	lastTrain  *train.Progress
	cancel     context.CancelFunc
	stopping   bool
	done       bool
	err        error
}

// New creates a dashboard for runID. cancel stops training when the user quits.
func New(runID string, cancel context.CancelFunc) Model {
	return Model{
		runID:  runID,
		bar:    progress.New(progress.WithDefaultGradient()),
		cancel: cancel,
	}
}

func (m Model) Init() tea.Cmd { return nil }

// Err returns the error training finished with.
func (m Model) Err() error { return m.err }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w, _ := boxStyle.GetFrameSize()
		m.bar.Width = max(20, msg.Width-w)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.done {
				return m, tea.Quit
			}
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
			return m, nil
		}
	case ProgressMsg:
		p := train.Progress(msg)
		m.current = &p
		switch p.Phase {
		case train.PhaseValidation:
			m.validation = &p
		case train.PhaseTrain:
			m.lastTrain = &p
		}
		return m, nil
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	header := headerStyle.Render("docembed training  run " + m.runID)
	if m.current == nil {
		return header + "\n" + dimStyle.Render("Waiting for the first batch...") + "\n"
	}
	p := m.current
	epoch := fmt.Sprintf("Epoch %d/%d  %s  batch %d/%d", p.Epoch+1, p.MaxEpochs, p.Phase, p.Batch, p.NumBatches)
	body := epoch + "\n" + m.bar.ViewAs(fraction(p)) + "\n\n" +
		line("train", m.lastTrain) + "\n" +
		line("validation", m.validation)

	status := dimStyle.Render("q to stop")
	switch {
	case m.done && m.err != nil:
		status = errStyle.Render("Error: " + m.err.Error())
	case m.done:
		status = okStyle.Render("Finished")
	case m.stopping:
		status = dimStyle.Render("Stopping...")
	}
	return header + "\n" + boxStyle.Render(body) + "\n" + status + "\n"
}

func line(label string, p *train.Progress) string {
	if p == nil {
		return fmt.Sprintf("%-10s -", label)
	}
	return fmt.Sprintf("%-10s loss %.4f  accuracy %.3f  samples %d", label, p.Loss, p.Accuracy, p.Samples)
}

func fraction(p *train.Progress) float64 {
	if p.NumBatches <= 0 {
		return 0
	}
	return min(1, float64(p.Batch)/float64(p.NumBatches))
}

var (
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Sender is the part of *tea.Program the reporter needs.
type Sender interface {
	Send(msg tea.Msg)
}

type reporter struct{ s Sender }

func (r reporter) Report(p train.Progress) { r.s.Send(ProgressMsg(p)) }

// NewReporter forwards training progress to a running program.
func NewReporter(s Sender) train.Reporter { return reporter{s: s} }
