package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"

	"docembed/internal/domain"
)

// Storage is an in-memory vector store using brute-force dot products. Vectors
// are expected to be L2-normalised, which makes the score a cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	ids       []domain.EntityID
	vectors   [][]float64
	pos       map[domain.EntityID]int
}

func NewStorage() *Storage { return &Storage{pos: map[domain.EntityID]int{}} }

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		s.reset()
	}
	s.dimension = dimension
	return nil
}

// Upsert replaces vectors of ids already stored.
func (s *Storage) Upsert(_ context.Context, ids []domain.EntityID, vectors [][]float64) error {
	if len(ids) != len(vectors) {
		return errors.New("ids and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	for i, id := range ids {
		vec := append([]float64(nil), vectors[i]...)
		if j, ok := s.pos[id]; ok {
			s.vectors[j] = vec
			continue
		}
		s.pos[id] = len(s.ids)
		s.ids = append(s.ids, id)
		s.vectors = append(s.vectors, vec)
	}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(vector) != s.dimension {
		return nil, errors.New("vector dimension mismatch")
	}
	if topK <= 0 {
		topK = 5
	}
	results := make([]domain.SearchResult, len(s.vectors))
	for i, v := range s.vectors {
		results[i] = domain.SearchResult{DocumentID: s.ids[i], Score: floats.Dot(v, vector)}
	}
	slices.SortStableFunc(results, func(a, b domain.SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return results[:min(topK, len(results))], nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Len returns the number of stored vectors.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Storage) reset() {
	s.ids = nil
	s.vectors = nil
	s.pos = map[domain.EntityID]int{}
}
