package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const cosineEps = 1e-12

// CosineEmbeddingLoss scores pairs by cosine similarity: 1-cos for a +1 label
// and max(0, cos-Margin) for a -1 label, averaged over the batch.
type CosineEmbeddingLoss struct {
	Margin float64
}

// LossResult is the batch loss and its gradients with respect to both inputs.
type LossResult struct {
	Loss   float64
	Cosine []float64
	DA     *mat.Dense
	DB     *mat.Dense
}

// Compute evaluates the loss for row-aligned embeddings a and b.
func (l CosineEmbeddingLoss) Compute(a, b *mat.Dense, labels []float64) (LossResult, error) {
	n, dim := a.Dims()
	if rb, cb := b.Dims(); rb != n || cb != dim {
		return LossResult{}, fmt.Errorf("embeddings are %dx%d and %dx%d", n, dim, rb, cb)
	}
	if len(labels) != n {
		return LossResult{}, fmt.Errorf("got %d labels for %d pairs", len(labels), n)
	}

	res := LossResult{
		Cosine: make([]float64, n),
		DA:     mat.NewDense(n, dim, nil),
		DB:     mat.NewDense(n, dim, nil),
	}
	scale := 1 / float64(n)
	for i := 0; i < n; i++ {
		x, y := a.RawRowView(i), b.RawRowView(i)
		dot := floats.Dot(x, y)
		m1 := floats.Dot(x, x) + cosineEps
		m2 := floats.Dot(y, y) + cosineEps
		denom := math.Sqrt(m1 * m2)
		cos := dot / denom
		res.Cosine[i] = cos

		var dcos float64
		switch labels[i] {
		case 1:
			res.Loss += 1 - cos
			dcos = -scale
		case -1:
			if cos > l.Margin {
				res.Loss += cos - l.Margin
				dcos = scale
			}
		default:
			return LossResult{}, fmt.Errorf("label %v at %d is neither 1 nor -1", labels[i], i)
		}
		if dcos == 0 {
			continue
		}
		// d cos / dx = (y - (dot/m1) x) / denom, symmetric for y
		da, db := res.DA.RawRowView(i), res.DB.RawRowView(i)
		floats.AddScaledTo(da, da, dcos/denom, y)
		floats.AddScaled(da, -dcos*dot/(m1*denom), x)
		floats.AddScaledTo(db, db, dcos/denom, x)
		floats.AddScaled(db, -dcos*dot/(m2*denom), y)
	}
	res.Loss *= scale
	return res, nil
}

// CountMatches counts pairs where the sign of the dot product, rounded half to
// even, agrees with the sign of the label. A product that rounds to zero never
// matches.
func CountMatches(a, b *mat.Dense, labels []float64) int {
	matches := 0
	for i, label := range labels {
		rounded := math.RoundToEven(floats.Dot(a.RawRowView(i), b.RawRowView(i)))
		if rounded != 0 && math.Signbit(rounded) == math.Signbit(label) {
			matches++
		}
	}
	return matches
}

// Cosine returns the cosine similarity of x and y.
func Cosine(x, y []float64) float64 {
	return floats.Dot(x, y) / math.Sqrt((floats.Dot(x, x)+cosineEps)*(floats.Dot(y, y)+cosineEps))
}

// Normalize scales every row of m to unit L2 norm in place. Zero rows are left
// untouched.
func Normalize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		if n := floats.Norm(row, 2); n > 0 {
			floats.Scale(1/n, row)
		}
	}
}
