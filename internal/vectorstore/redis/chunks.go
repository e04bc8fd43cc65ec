package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
)

// AddChunks upserts chunks with their vectors in one DoMulti round-trip.
// Keys are derived from chunk IDs, so re-indexing a document overwrites
// its previous chunks in place.
func (s *Store) AddChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks and %d vectors: %w",
			len(chunks), len(vectors), domain.ErrDimensionMismatch)
	}
	if len(chunks) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) != s.dimension {
			return fmt.Errorf("chunk %s has vector width %d, index expects %d: %w",
				chunk.ID(), len(vectors[i]), s.dimension, domain.ErrDimensionMismatch)
		}

		cmd := s.b().Hset().Key(s.keyPrefix+chunk.ID()).FieldValue().
			FieldValue(fieldContent, chunk.Content).
			FieldValue(fieldDocumentKey, chunk.DocumentKey).
			FieldValue(fieldChunkIndex, strconv.Itoa(chunk.Index)).
			FieldValue(fieldSection, chunk.Section).
			FieldValue(fieldMetadata, encodeMetadata(chunk.Metadata)).
			FieldValue(fieldVector, vectorToBytes(vectors[i]))
		cmds[i] = cmd.Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("storing chunk %s: %w", chunks[i].ID(), err)
		}
	}

	s.logger.Debug("stored chunks", zap.Int("count", len(chunks)))
	return nil
}

// DeleteByDocumentKey finds every chunk of the document via the tag
// index and deletes the hashes in one DoMulti round-trip.
func (s *Store) DeleteByDocumentKey(ctx context.Context, documentKey string) (int, error) {
	if documentKey == "" {
		return 0, domain.NewValidation("document key is required")
	}

	query := fmt.Sprintf("@%s:{%s}", fieldDocumentKey, tagEscaper.Replace(documentKey))
	cmd := s.b().Arbitrary("FT.SEARCH").Args(
		s.indexName, query,
		"NOCONTENT",
		"LIMIT", "0", "10000",
		"DIALECT", "2",
	).Build()

	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return 0, fmt.Errorf("finding chunks of %s: %w", documentKey, err)
	}
	if len(raw) <= 1 {
		return 0, nil
	}

	// NOCONTENT layout: [total, key1, key2, ...]
	keys := make([]string, 0, len(raw)-1)
	for _, msg := range raw[1:] {
		if key, err := msg.ToString(); err == nil {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Del().Key(key).Build()
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return 0, fmt.Errorf("deleting chunks of %s: %w", documentKey, err)
		}
	}

	s.logger.Info("deleted document chunks",
		zap.String("document", documentKey),
		zap.Int("count", len(keys)),
	)
	return len(keys), nil
}

// Count returns the indexed chunk total via a zero-window search, zero
// on any error.
func (s *Store) Count(ctx context.Context) int {
	cmd := s.b().Arbitrary("FT.SEARCH").Args(s.indexName, "*", "LIMIT", "0", "0").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil || len(raw) == 0 {
		return 0
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0
	}
	return int(total)
}
