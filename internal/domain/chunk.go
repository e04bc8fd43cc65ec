package domain

import (
	"context"
	"strconv"
)

// Chunk is a contiguous slice of a document's body, the unit of
// retrieval. Index defines reading order within the owning document.
type Chunk struct {
	DocumentKey string
	Index       int
	Content     string
	Section     string
	Page        int
	Metadata    map[string]string
}

// ID returns the deterministic chunk identifier. Re-indexing the same
// document overwrites rather than duplicates.
func (c Chunk) ID() string {
	return c.DocumentKey + ":" + strconv.Itoa(c.Index)
}

// EmbeddingProvider turns text into dense vectors. Embed preserves
// input order and 1:1 length correspondence; an empty input returns an
// empty output without a backend call.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
