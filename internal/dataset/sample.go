package dataset

import (
	"docembed/internal/features"
)

const (
	// Positive labels a pair of documents liked by the same user.
	Positive = 1.0
	// Negative labels a pair whose second document was drawn from the global pool.
	Negative = -1.0
)

// Sample is one training pair.
type Sample struct {
	A, B  features.EncodedDocument
	Label float64
}

// PairBatch is the training unit: both sides collated separately plus labels.
type PairBatch struct {
	A, B   features.Batch
	Labels []float64
}

// Size returns the number of pairs.
func (p PairBatch) Size() int { return len(p.Labels) }

// CollatePairs collates the A and B sides of samples independently.
func CollatePairs(samples []Sample) (PairBatch, error) {
	as := make([]features.EncodedDocument, len(samples))
	bs := make([]features.EncodedDocument, len(samples))
	labels := make([]float64, len(samples))
	for i, s := range samples {
		as[i] = s.A
		bs[i] = s.B
		labels[i] = s.Label
	}
	a, err := features.Collate(as)
	if err != nil {
		return PairBatch{}, err
	}
	b, err := features.Collate(bs)
	if err != nil {
		return PairBatch{}, err
	}
	return PairBatch{A: a, B: b, Labels: labels}, nil
}

func labelName(label float64) string {
	if label > 0 {
		return "positive"
	}
	return "negative"
}
