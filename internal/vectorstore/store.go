// Package vectorstore defines the chunk storage and similarity search
// contract. Backends normalize their native scores into [0,1] where 1
// is an exact match, so callers can compare and threshold uniformly.
package vectorstore

import (
	"context"

	"github.com/research-os/ragd/internal/domain"
)

// Query describes one retrieval request. Vector drives similarity
// search; when it is empty, backends that support lexical search fall
// back to it using Text, others report domain.ErrLexicalUnsupported.
type Query struct {
	Text     string
	Vector   []float32
	Limit    int
	MinScore float64
	Filters  map[string]string
}

// Result is a scored, descending-ordered hit list. Lexical marks
// results produced by the text fallback rather than vector similarity.
type Result struct {
	Hits    []domain.SearchHit
	Lexical bool
}

// Store persists embedded chunks and serves similarity queries.
type Store interface {
	// InitializeSchema creates the backing index if missing. Safe to
	// call repeatedly.
	InitializeSchema(ctx context.Context) error

	// AddChunks upserts chunks with their vectors, keyed by chunk ID so
	// re-indexing a document overwrites rather than duplicates. A
	// chunk/vector count or width mismatch is rejected with
	// domain.ErrDimensionMismatch before any write.
	AddChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error

	// Search runs the query and returns normalized, ordered hits.
	Search(ctx context.Context, q Query) (Result, error)

	// DeleteByDocumentKey removes every chunk of one document and
	// returns how many were deleted.
	DeleteByDocumentKey(ctx context.Context, documentKey string) (int, error)

	// Count returns the number of stored chunks, zero when the backend
	// cannot answer.
	Count(ctx context.Context) int

	// HealthCheck reports backend reachability.
	HealthCheck(ctx context.Context) bool

	// Close releases the backend connection.
	Close()
}
