package features

import (
	"fmt"

	"docembed/internal/domain"
)

// DocumentIndex maps document ids to dense rows of the identity embedding table.
// It is immutable after construction and safe to share between goroutines.
type DocumentIndex struct {
	ids []domain.EntityID
	pos map[domain.EntityID]int
}

// NewDocumentIndex assigns ids[i] the index i. Duplicate ids are rejected so the
// mapping stays bijective.
func NewDocumentIndex(ids []domain.EntityID) (*DocumentIndex, error) {
	idx := &DocumentIndex{
		ids: make([]domain.EntityID, len(ids)),
		pos: make(map[domain.EntityID]int, len(ids)),
	}
	copy(idx.ids, ids)
	for i, id := range idx.ids {
		if prev, ok := idx.pos[id]; ok {
			return nil, fmt.Errorf("duplicate document id %q at %d and %d", id, prev, i)
		}
		idx.pos[id] = i
	}
	return idx, nil
}

// Lookup returns the dense index of id or an *domain.UnknownDocumentError.
func (x *DocumentIndex) Lookup(id domain.EntityID) (int, error) {
	i, ok := x.pos[id]
	if !ok {
		return 0, &domain.UnknownDocumentError{ID: id}
	}
	return i, nil
}

// ID is the inverse of Lookup.
func (x *DocumentIndex) ID(i int) (domain.EntityID, bool) {
	if i < 0 || i >= len(x.ids) {
		return "", false
	}
	return x.ids[i], true
}

// Len returns the number of indexed documents.
func (x *DocumentIndex) Len() int { return len(x.ids) }
