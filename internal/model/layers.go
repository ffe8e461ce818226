package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer computing x*Wᵀ + b.
type Linear struct {
	W *mat.Dense // out x in
	B []float64
}

// NewLinear initialises weights and bias uniformly in ±1/sqrt(in).
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	uniform := func() float64 { return (2*rng.Float64() - 1) * bound }
	w := make([]float64, out*in)
	for i := range w {
		w[i] = uniform()
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = uniform()
	}
	return &Linear{W: mat.NewDense(out, in, w), B: b}
}

// In returns the input width.
func (l *Linear) In() int { _, c := l.W.Dims(); return c }

// Out returns the output width.
func (l *Linear) Out() int { r, _ := l.W.Dims(); return r }

// Forward maps an n x In batch to n x Out.
func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	y := mat.NewDense(n, l.Out(), nil)
	y.Mul(x, l.W.T())
	for i := 0; i < n; i++ {
		floats.Add(y.RawRowView(i), l.B)
	}
	return y
}

// Backward adds the parameter gradients for upstream gradient dy into g and
// returns the gradient with respect to x.
func (l *Linear) Backward(x, dy *mat.Dense, g *LinearGrad) *mat.Dense {
	var dw mat.Dense
	dw.Mul(dy.T(), x)
	g.W.Add(g.W, &dw)
	n, _ := dy.Dims()
	for i := 0; i < n; i++ {
		floats.Add(g.B, dy.RawRowView(i))
	}
	dx := mat.NewDense(n, l.In(), nil)
	dx.Mul(dy, l.W)
	return dx
}

// LinearGrad accumulates gradients for a Linear layer.
type LinearGrad struct {
	W *mat.Dense
	B []float64
}

func newLinearGrad(l *Linear) LinearGrad {
	r, c := l.W.Dims()
	return LinearGrad{W: mat.NewDense(r, c, nil), B: make([]float64, r)}
}

func (g *LinearGrad) zero() {
	g.W.Zero()
	for i := range g.B {
		g.B[i] = 0
	}
}

// Embedding is a lookup table of row vectors.
type Embedding struct {
	W *mat.Dense // rows x dim
}

// NewEmbedding initialises every entry from N(0, 1).
func NewEmbedding(rows, dim int, rng *rand.Rand) *Embedding {
	w := make([]float64, rows*dim)
	for i := range w {
		w[i] = rng.NormFloat64()
	}
	return &Embedding{W: mat.NewDense(rows, dim, w)}
}

// Rows returns the table size.
func (e *Embedding) Rows() int { r, _ := e.W.Dims(); return r }

// Dim returns the vector width.
func (e *Embedding) Dim() int { _, c := e.W.Dims(); return c }

// Lookup returns one row per index.
func (e *Embedding) Lookup(indices []int) (*mat.Dense, error) {
	out := mat.NewDense(len(indices), e.Dim(), nil)
	for k, i := range indices {
		if i < 0 || i >= e.Rows() {
			return nil, fmt.Errorf("embedding index %d out of range [0, %d)", i, e.Rows())
		}
		out.SetRow(k, e.W.RawRowView(i))
	}
	return out, nil
}

// BagMax reduces each bag to the element-wise maximum of its rows. Bag k spans
// indices[offsets[k]:offsets[k+1]], the last bag runs to the end. An empty bag
// yields a zero vector. argmax[k][d] is the table row that won dimension d, or
// -1 for an empty bag.
func (e *Embedding) BagMax(indices, offsets []int) (*mat.Dense, [][]int, error) {
	dim := e.Dim()
	out := mat.NewDense(len(offsets), dim, nil)
	argmax := make([][]int, len(offsets))
	for k, start := range offsets {
		end := len(indices)
		if k+1 < len(offsets) {
			end = offsets[k+1]
		}
		winners := make([]int, dim)
		argmax[k] = winners
		if start >= end {
			for d := range winners {
				winners[d] = -1
			}
			continue
		}
		row := out.RawRowView(k)
		for n, i := range indices[start:end] {
			if i < 0 || i >= e.Rows() {
				return nil, nil, fmt.Errorf("embedding index %d out of range [0, %d)", i, e.Rows())
			}
			vec := e.W.RawRowView(i)
			for d, v := range vec {
				if n == 0 || v > row[d] {
					row[d] = v
					winners[d] = i
				}
			}
		}
	}
	return out, argmax, nil
}

// SparseGrad holds gradients for the embedding rows touched by a batch.
type SparseGrad map[int][]float64

func (g SparseGrad) add(row int, grad []float64) {
	acc, ok := g[row]
	if !ok {
		acc = make([]float64, len(grad))
		g[row] = acc
	}
	floats.Add(acc, grad)
}

func relu(pre *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return max(v, 0) }, pre)
	return &out
}

// reluGrad masks upstream gradient d where the pre-activation was not positive.
func reluGrad(pre, d *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(i, j int, v float64) float64 {
		if pre.At(i, j) > 0 {
			return v
		}
		return 0
	}, d)
	return &out
}
