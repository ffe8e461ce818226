package features

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"docembed/internal/domain"
)

// Batch is the collated form of N encoded documents. Tag indices of all samples
// are concatenated into TagIndices; TagOffsets[k] is where sample k's bag starts
// and the last bag runs to the end of TagIndices.
type Batch struct {
	Dense      *mat.Dense // N x DenseWidth
	DocIndices []int
	TagIndices []int
	TagOffsets []int
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int { return len(b.DocIndices) }

// Bag returns the tag indices of sample k.
func (b Batch) Bag(k int) []int {
	end := len(b.TagIndices)
	if k+1 < len(b.TagOffsets) {
		end = b.TagOffsets[k+1]
	}
	return b.TagIndices[b.TagOffsets[k]:end]
}

// Validate checks the shape invariants a model relies on.
func (b Batch) Validate() error {
	n := len(b.DocIndices)
	if n == 0 {
		return domain.ErrEmptyBatch
	}
	if b.Dense == nil {
		return fmt.Errorf("batch has no dense features")
	}
	if r, c := b.Dense.Dims(); r != n || c != DenseWidth {
		return fmt.Errorf("dense features are %dx%d, want %dx%d", r, c, n, DenseWidth)
	}
	if len(b.TagOffsets) != n {
		return fmt.Errorf("got %d tag offsets for %d samples", len(b.TagOffsets), n)
	}
	if b.TagOffsets[0] != 0 {
		return fmt.Errorf("first tag offset is %d", b.TagOffsets[0])
	}
	for k := 1; k < n; k++ {
		if b.TagOffsets[k] < b.TagOffsets[k-1] {
			return fmt.Errorf("tag offsets decrease at %d", k)
		}
	}
	if b.TagOffsets[n-1] > len(b.TagIndices) {
		return fmt.Errorf("tag offset %d past end of %d tags", b.TagOffsets[n-1], len(b.TagIndices))
	}
	return nil
}

// Collate stacks docs in order into a Batch.
func Collate(docs []EncodedDocument) (Batch, error) {
	if len(docs) == 0 {
		return Batch{}, domain.ErrEmptyBatch
	}
	total := 0
	for _, d := range docs {
		total += len(d.TagIndices)
	}
	b := Batch{
		Dense:      mat.NewDense(len(docs), DenseWidth, nil),
		DocIndices: make([]int, len(docs)),
		TagIndices: make([]int, 0, total),
		TagOffsets: make([]int, len(docs)),
	}
	for k, d := range docs {
		b.Dense.SetRow(k, d.Dense[:])
		b.DocIndices[k] = d.DocIndex
		b.TagOffsets[k] = len(b.TagIndices)
		b.TagIndices = append(b.TagIndices, d.TagIndices...)
	}
	return b, nil
}
