package domain

import "context"

// EntityID is the opaque identifier of a user or document node in the graph store.
type EntityID string

// Document is a snapshot of a document node as returned by the graph store.
type Document struct {
	ID           EntityID `json:"uid"`
	Title        string   `json:"title,omitempty"`
	WordCount    int      `json:"wordcount,omitempty"`
	ReviewCount  int      `json:"reviews,omitempty"`
	ChapterCount int      `json:"chapters,omitempty"`
	LikeCount    int      `json:"likecount,omitempty"`
	Complete     bool     `json:"complete,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// User is a user node together with the documents it likes.
// Order of Likes carries no meaning.
type User struct {
	ID    EntityID   `json:"uid"`
	Likes []Document `json:"likes,omitempty"`
}

// SearchResult is a document returned by a similarity search.
type SearchResult struct {
	DocumentID EntityID
	Score      float64
}

// GraphSource is the read-only view of the user/document graph that training consumes.
// Implementations are not required to be safe for concurrent use; every sampling
// worker owns its own GraphSource obtained from a Connector.
type GraphSource interface {
	// DocumentIDs returns the ids of every document node.
	DocumentIDs(ctx context.Context) ([]EntityID, error)
	// ActiveUserIDs returns the ids of users with at least minLikes liked documents.
	ActiveUserIDs(ctx context.Context, minLikes int) ([]EntityID, error)
	// LookupUser returns every user record stored under id. A healthy store
	// returns exactly one; zero or several records are reported by the caller.
	LookupUser(ctx context.Context, id EntityID) ([]User, error)
	// Document returns a single document or ErrDocumentNotFound.
	Document(ctx context.Context, id EntityID) (Document, error)
	Close() error
}

// Connector opens a new GraphSource owned exclusively by the caller.
type Connector func(ctx context.Context) (GraphSource, error)

// EmbeddingStore persists document embeddings and supports similarity search.
type EmbeddingStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, ids []EntityID, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, topK int) ([]SearchResult, error)
	Clear(ctx context.Context) error
}
