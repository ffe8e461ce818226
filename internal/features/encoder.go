// Package features turns document records into fixed-shape numeric inputs and
// collates them into batches.
package features

import (
	"docembed/internal/domain"
	"docembed/internal/partition"
)

const (
	// DenseWidth is the number of scalar features per document.
	DenseWidth = 5
	// TagTableSize is the number of rows in the hashed tag embedding table.
	TagTableSize = 10000
)

// EncodedDocument is the model input for one document.
type EncodedDocument struct {
	// Dense holds wordCount, reviewCount, chapterCount, likeCount, complete.
	Dense      [DenseWidth]float64
	DocIndex   int
	TagIndices []int
}

// Encoder encodes documents against a fixed DocumentIndex.
type Encoder struct {
	index     *DocumentIndex
	tableSize int
}

// NewEncoder creates an encoder. tableSize <= 0 selects TagTableSize.
func NewEncoder(index *DocumentIndex, tableSize int) *Encoder {
	if tableSize <= 0 {
		tableSize = TagTableSize
	}
	return &Encoder{index: index, tableSize: tableSize}
}

// TableSize returns the number of tag buckets.
func (e *Encoder) TableSize() int { return e.tableSize }

// Encode converts doc into model features. Documents outside the index fail with
// an *domain.UnknownDocumentError.
func (e *Encoder) Encode(doc domain.Document) (EncodedDocument, error) {
	docIndex, err := e.index.Lookup(doc.ID)
	if err != nil {
		return EncodedDocument{}, err
	}
	out := EncodedDocument{
		Dense: [DenseWidth]float64{
			float64(doc.WordCount),
			float64(doc.ReviewCount),
			float64(doc.ChapterCount),
			float64(doc.LikeCount),
			boolFeature(doc.Complete),
		},
		DocIndex:   docIndex,
		TagIndices: make([]int, len(doc.Tags)),
	}
	for i, tag := range doc.Tags {
		out.TagIndices[i] = TagIndex(tag, e.tableSize)
	}
	return out, nil
}

// TagIndex buckets a tag into [0, tableSize). Distinct tags may share a bucket.
func TagIndex(tag string, tableSize int) int {
	return int(partition.Hash64(tag) % uint64(tableSize))
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
