package dataset

import (
	"context"
	"errors"
	"fmt"

	"docembed/internal/domain"
	"docembed/internal/features"
	"docembed/internal/logger"
)

// Snapshot is the immutable universe a training run samples from: every
// document id, every active user id and the DocumentIndex built over the
// documents. It is built once by the harness and shared by reference.
type Snapshot struct {
	Documents []domain.EntityID
	Users     []domain.EntityID
	Index     *features.DocumentIndex
}

// NewSnapshot builds a snapshot from id lists already in memory.
func NewSnapshot(documents, users []domain.EntityID) (*Snapshot, error) {
	if len(documents) == 0 {
		return nil, errors.New("snapshot has no documents")
	}
	index, err := features.NewDocumentIndex(documents)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		Documents: make([]domain.EntityID, len(documents)),
		Users:     make([]domain.EntityID, len(users)),
		Index:     index,
	}
	copy(s.Documents, documents)
	copy(s.Users, users)
	return s, nil
}

// LoadSnapshot queries src for all documents and for users with at least
// minLikes liked documents.
func LoadSnapshot(ctx context.Context, src domain.GraphSource, minLikes int) (*Snapshot, error) {
	logger.Info("Loading graph snapshot", "min_likes", minLikes)
	docs, err := src.DocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load document ids: %w", err)
	}
	users, err := src.ActiveUserIDs(ctx, minLikes)
	if err != nil {
		return nil, fmt.Errorf("load user ids: %w", err)
	}
	logger.Info("Loaded graph snapshot", "docs", len(docs), "users", len(users))
	return NewSnapshot(docs, users)
}
