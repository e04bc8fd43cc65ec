package redis

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
)

func schemaError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrSchema, err)
}

// Hash field names of a stored chunk.
const (
	fieldContent     = "content"
	fieldDocumentKey = "document_key"
	fieldChunkIndex  = "chunk_index"
	fieldSection     = "section"
	fieldMetadata    = "metadata"
	fieldVector      = "vector"

	vectorScoreAlias = "__vector_score"
)

// InitializeSchema creates the chunk index if it does not exist yet.
func (s *Store) InitializeSchema(ctx context.Context) error {
	exists, err := s.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	args := []string{
		s.indexName,
		"ON", "HASH",
		"PREFIX", "1", s.keyPrefix,
		"SCHEMA",
		fieldContent, "TEXT",
		fieldDocumentKey, "TAG",
		fieldChunkIndex, "NUMERIC",
		fieldSection, "TAG",
		fieldMetadata, "TEXT", "NOSTEM",
	}
	args = append(args, s.vectorFieldArgs()...)

	cmd := s.b().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return schemaError(fmt.Errorf("create index %s: %w", s.indexName, err))
	}

	s.logger.Info("created chunk index",
		zap.String("index", s.indexName),
		zap.Int("dimension", s.dimension),
	)
	return nil
}

// indexExists probes via FT.INFO; "unknown index name" means absent.
func (s *Store) indexExists(ctx context.Context) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(s.indexName).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return false, nil
		}
		return false, schemaError(fmt.Errorf("index info %s: %w", s.indexName, err))
	}
	return true, nil
}

func (s *Store) vectorFieldArgs() []string {
	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.dimension),
		"DISTANCE_METRIC", "COSINE",
	}
	if s.hnswM > 0 {
		attrs = append(attrs, "M", strconv.Itoa(s.hnswM))
	}
	if s.hnswEF > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(s.hnswEF))
	}

	args := []string{fieldVector, "VECTOR", "HNSW", strconv.Itoa(len(attrs))}
	return append(args, attrs...)
}
