// Package model implements the document tower: hashed tag bag, document
// identity embedding and three fully connected layers, with a hand-written
// backward pass over gonum matrices.
package model

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"docembed/internal/features"
)

const (
	TagDim    = 32
	DocDim    = 32
	HiddenDim = 128
	OutputDim = 64
	// InputDim is the width of [dense, tag aggregate, document embedding].
	InputDim = features.DenseWidth + TagDim + DocDim
)

// Model maps a features.Batch to OutputDim-wide embeddings. Both sides of a
// pair go through the same Model.
type Model struct {
	Tags *Embedding
	Docs *Embedding
	FC1  *Linear
	FC2  *Linear
	FC3  *Linear
}

// New creates a randomly initialised model for numDocs documents and a tag
// table of tagTableSize buckets.
func New(numDocs, tagTableSize int, seed uint64) (*Model, error) {
	if numDocs <= 0 {
		return nil, fmt.Errorf("model needs at least one document, got %d", numDocs)
	}
	if tagTableSize <= 0 {
		tagTableSize = features.TagTableSize
	}
	rng := rand.New(rand.NewPCG(seed, 0x646f63656d626564))
	return &Model{
		Tags: NewEmbedding(tagTableSize, TagDim, rng),
		Docs: NewEmbedding(numDocs, DocDim, rng),
		FC1:  NewLinear(InputDim, HiddenDim, rng),
		FC2:  NewLinear(HiddenDim, HiddenDim, rng),
		FC3:  NewLinear(HiddenDim, OutputDim, rng),
	}, nil
}

// NumDocs returns the size of the document embedding table.
func (m *Model) NumDocs() int { return m.Docs.Rows() }

// TagTableSize returns the size of the tag embedding table.
func (m *Model) TagTableSize() int { return m.Tags.Rows() }

// Trace keeps the intermediate values of a forward pass for Backward.
type Trace struct {
	batch  features.Batch
	argmax [][]int
	x      *mat.Dense
	h1pre  *mat.Dense
	h1     *mat.Dense
	h2pre  *mat.Dense
	h2     *mat.Dense
}

// Forward embeds every sample of b into an N x OutputDim matrix.
func (m *Model) Forward(b features.Batch) (*mat.Dense, *Trace, error) {
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}
	tags, argmax, err := m.Tags.BagMax(b.TagIndices, b.TagOffsets)
	if err != nil {
		return nil, nil, fmt.Errorf("tag bag: %w", err)
	}
	docs, err := m.Docs.Lookup(b.DocIndices)
	if err != nil {
		return nil, nil, fmt.Errorf("document embedding: %w", err)
	}

	n := b.Size()
	x := mat.NewDense(n, InputDim, nil)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		copy(row[:features.DenseWidth], b.Dense.RawRowView(i))
		copy(row[features.DenseWidth:features.DenseWidth+TagDim], tags.RawRowView(i))
		copy(row[features.DenseWidth+TagDim:], docs.RawRowView(i))
	}

	t := &Trace{batch: b, argmax: argmax, x: x}
	t.h1pre = m.FC1.Forward(x)
	t.h1 = relu(t.h1pre)
	t.h2pre = m.FC2.Forward(t.h1)
	t.h2 = relu(t.h2pre)
	return m.FC3.Forward(t.h2), t, nil
}

// Embed is Forward without the trace.
func (m *Model) Embed(b features.Batch) (*mat.Dense, error) {
	out, _, err := m.Forward(b)
	return out, err
}

// Backward accumulates into g the gradients of a loss whose gradient with
// respect to the output of the traced forward pass is dOut.
func (m *Model) Backward(t *Trace, dOut *mat.Dense, g *Gradients) {
	dh2 := m.FC3.Backward(t.h2, dOut, &g.FC3)
	dh1 := m.FC2.Backward(t.h1, reluGrad(t.h2pre, dh2), &g.FC2)
	dx := m.FC1.Backward(t.x, reluGrad(t.h1pre, dh1), &g.FC1)

	for k := 0; k < t.batch.Size(); k++ {
		row := dx.RawRowView(k)
		for d, winner := range t.argmax[k] {
			if winner < 0 {
				continue
			}
			g.addTag(winner, d, row[features.DenseWidth+d])
		}
		g.Docs.add(t.batch.DocIndices[k], row[features.DenseWidth+TagDim:])
	}
}

// Gradients accumulates parameter gradients between optimizer steps.
type Gradients struct {
	FC1  LinearGrad
	FC2  LinearGrad
	FC3  LinearGrad
	Tags SparseGrad
	Docs SparseGrad
}

// NewGradients returns zeroed gradients shaped like m.
func (m *Model) NewGradients() *Gradients {
	return &Gradients{
		FC1:  newLinearGrad(m.FC1),
		FC2:  newLinearGrad(m.FC2),
		FC3:  newLinearGrad(m.FC3),
		Tags: SparseGrad{},
		Docs: SparseGrad{},
	}
}

// Zero clears g for the next batch.
func (g *Gradients) Zero() {
	g.FC1.zero()
	g.FC2.zero()
	g.FC3.zero()
	clear(g.Tags)
	clear(g.Docs)
}

func (g *Gradients) addTag(row, d int, v float64) {
	acc, ok := g.Tags[row]
	if !ok {
		acc = make([]float64, TagDim)
		g.Tags[row] = acc
	}
	acc[d] += v
}
