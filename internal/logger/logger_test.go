package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	lines []string
}

func (r *recorder) Debug(m string, _ ...any) { r.lines = append(r.lines, "DEBUG "+m) }
func (r *recorder) Info(m string, _ ...any)  { r.lines = append(r.lines, "INFO "+m) }
func (r *recorder) Warn(m string, _ ...any)  { r.lines = append(r.lines, "WARN "+m) }
func (r *recorder) Error(m string, _ ...any) { r.lines = append(r.lines, "ERROR "+m) }
func (r *recorder) Fatal(m string, _ ...any) { r.lines = append(r.lines, "FATAL "+m) }

func TestDispatchToAllInstances(t *testing.T) {
	t.Cleanup(func() { singleton = nil })
	a, b := &recorder{}, &recorder{}
	Init(a, b)

	Info("loaded", "docs", 3)
	Warn("duplicate user", "uid", "0x1")

	want := []string{"INFO loaded", "WARN duplicate user"}
	assert.Equal(t, want, a.lines)
	assert.Equal(t, want, b.lines)
}

func TestCallsBeforeInitAreDropped(t *testing.T) {
	singleton = nil
	assert.NotPanics(t, func() {
		Debug("nothing")
		Error("nothing")
	})
}
