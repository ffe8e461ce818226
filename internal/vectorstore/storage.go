// Package vectorstore holds the embedding stores that exported document
// embeddings are written to.
package vectorstore

import "docembed/internal/domain"

// Storage persists document vectors and supports similarity search.
type Storage = domain.EmbeddingStore
