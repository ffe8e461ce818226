package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docembed/internal/train"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestViewBeforeProgress(t *testing.T) {
	m := New("run-1", nil)
	assert.Contains(t, m.View(), "run-1")
	assert.Contains(t, m.View(), "Waiting")
}

func TestProgressUpdatesView(t *testing.T) {
	m := New("run-1", nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = update(t, m, ProgressMsg(train.Progress{
		Phase: train.PhaseTrain, Epoch: 0, MaxEpochs: 3, Batch: 2, NumBatches: 4, Samples: 32, Loss: 0.25, Accuracy: 0.5,
	}))
	view := m.View()
	assert.Contains(t, view, "Epoch 1/3")
	assert.Contains(t, view, "batch 2/4")
	assert.Contains(t, view, "loss 0.2500")

	m, _ = update(t, m, ProgressMsg(train.Progress{Phase: train.PhaseValidation, MaxEpochs: 3, Batch: 1, NumBatches: 1, Loss: 0.75}))
	require.NotNil(t, m.validation)
	require.NotNil(t, m.lastTrain)
	assert.Contains(t, m.View(), "loss 0.7500")
}

func TestQuitCancelsTraining(t *testing.T) {
	canceled := 0
	m := New("run-1", func() { canceled++ })
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)
	assert.Equal(t, 1, canceled)
	assert.Contains(t, m.View(), "run-1")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, canceled)
	assert.True(t, m.stopping)
}

func TestDoneQuits(t *testing.T) {
	m := New("run-1", nil)
	m, _ = update(t, m, ProgressMsg(train.Progress{Phase: train.PhaseTrain, NumBatches: 1, Batch: 1}))
	m, cmd := update(t, m, DoneMsg{Err: errors.New("boom")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.EqualError(t, m.Err(), "boom")
	assert.Contains(t, m.View(), "boom")
}

type recorder struct{ msgs []tea.Msg }

func (r *recorder) Send(msg tea.Msg) { r.msgs = append(r.msgs, msg) }

func TestReporterForwardsProgress(t *testing.T) {
	r := &recorder{}
	NewReporter(r).Report(train.Progress{Batch: 3})
	require.Len(t, r.msgs, 1)
	assert.Equal(t, ProgressMsg(train.Progress{Batch: 3}), r.msgs[0])
}
