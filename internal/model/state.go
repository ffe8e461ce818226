package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is the serialisable form of a dense matrix.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// LinearState is the serialisable form of a Linear layer.
type LinearState struct {
	W Matrix    `json:"w"`
	B []float64 `json:"b"`
}

// State is a full snapshot of model parameters.
type State struct {
	Tags Matrix      `json:"tags"`
	Docs Matrix      `json:"docs"`
	FC1  LinearState `json:"fc1"`
	FC2  LinearState `json:"fc2"`
	FC3  LinearState `json:"fc3"`
}

// State copies the parameters of m.
func (m *Model) State() State {
	return State{
		Tags: toMatrix(m.Tags.W),
		Docs: toMatrix(m.Docs.W),
		FC1:  linearState(m.FC1),
		FC2:  linearState(m.FC2),
		FC3:  linearState(m.FC3),
	}
}

// FromState rebuilds a model, checking every shape against the architecture.
func FromState(s State) (*Model, error) {
	tags, err := fromMatrix("tags", s.Tags, -1, TagDim)
	if err != nil {
		return nil, err
	}
	docs, err := fromMatrix("docs", s.Docs, -1, DocDim)
	if err != nil {
		return nil, err
	}
	m := &Model{Tags: &Embedding{W: tags}, Docs: &Embedding{W: docs}}
	for _, l := range []struct {
		name    string
		state   LinearState
		in, out int
		dst     **Linear
	}{
		{"fc1", s.FC1, InputDim, HiddenDim, &m.FC1},
		{"fc2", s.FC2, HiddenDim, HiddenDim, &m.FC2},
		{"fc3", s.FC3, HiddenDim, OutputDim, &m.FC3},
	} {
		w, err := fromMatrix(l.name, l.state.W, l.out, l.in)
		if err != nil {
			return nil, err
		}
		if len(l.state.B) != l.out {
			return nil, fmt.Errorf("%s bias has %d entries, want %d", l.name, len(l.state.B), l.out)
		}
		*l.dst = &Linear{W: w, B: append([]float64(nil), l.state.B...)}
	}
	return m, nil
}

func toMatrix(d *mat.Dense) Matrix {
	r, c := d.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, d.RawRowView(i)...)
	}
	return Matrix{Rows: r, Cols: c, Data: data}
}

// fromMatrix checks shape; rows < 0 accepts any positive row count.
func fromMatrix(name string, m Matrix, rows, cols int) (*mat.Dense, error) {
	if m.Rows <= 0 || (rows >= 0 && m.Rows != rows) || m.Cols != cols {
		return nil, fmt.Errorf("%s is %dx%d, want %dx%d", name, m.Rows, m.Cols, rows, cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return nil, fmt.Errorf("%s has %d values for %dx%d", name, len(m.Data), m.Rows, m.Cols)
	}
	return mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...)), nil
}

func linearState(l *Linear) LinearState {
	return LinearState{W: toMatrix(l.W), B: append([]float64(nil), l.B...)}
}
