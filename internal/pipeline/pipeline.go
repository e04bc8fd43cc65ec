// Package pipeline wires chunking, embedding and the vector store into
// the indexing and retrieval flows.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/metrics"
	"github.com/research-os/ragd/internal/vectorstore"
)

// Chunker splits a document into retrieval units.
type Chunker interface {
	Chunk(doc domain.Document) ([]domain.Chunk, error)
}

// Stages of the indexing flow, used to attribute failures.
const (
	StageChunking  = "chunking"
	StageEmbedding = "embedding"
	StageStoring   = "storing"
)

// StageError reports which indexing stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Stats is a point-in-time snapshot of the store.
type Stats struct {
	ChunkCount int  `json:"chunk_count"`
	Healthy    bool `json:"healthy"`
}

// Pipeline executes the chunk, embed and store flow.
type Pipeline struct {
	chunker  Chunker
	embedder domain.EmbeddingProvider
	store    vectorstore.Store
	logger   *zap.Logger
}

// New builds a pipeline.
func New(chunker Chunker, embedder domain.EmbeddingProvider, store vectorstore.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// IndexDocument chunks, embeds and stores one document, returning the
// number of chunks written. Failures carry the stage they occurred in.
func (p *Pipeline) IndexDocument(ctx context.Context, doc domain.Document) (int, error) {
	chunks, err := p.chunker.Chunk(doc)
	if err != nil {
		metrics.DocumentsIndexedTotal.WithLabelValues("error").Inc()
		return 0, &StageError{Stage: StageChunking, Err: err}
	}
	if len(chunks) == 0 {
		p.logger.Warn("document produced no chunks", zap.String("document", doc.Key()))
		metrics.DocumentsIndexedTotal.WithLabelValues("empty").Inc()
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		metrics.DocumentsIndexedTotal.WithLabelValues("error").Inc()
		return 0, &StageError{Stage: StageEmbedding, Err: err}
	}

	if err := p.store.AddChunks(ctx, chunks, vectors); err != nil {
		metrics.DocumentsIndexedTotal.WithLabelValues("error").Inc()
		return 0, &StageError{Stage: StageStoring, Err: err}
	}

	metrics.DocumentsIndexedTotal.WithLabelValues("success").Inc()
	metrics.ChunksStoredTotal.Add(float64(len(chunks)))

	p.logger.Info("indexed document",
		zap.String("document", doc.Key()),
		zap.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}

// Query embeds the query text and retrieves the closest chunks.
func (p *Pipeline) Query(ctx context.Context, text string, limit int, minScore float64) (domain.RetrievedContext, error) {
	if text == "" {
		return domain.RetrievedContext{}, domain.NewValidation("query text is required")
	}
	if limit <= 0 {
		limit = 5
	}

	start := time.Now()

	vector, err := p.embedder.EmbedOne(ctx, text)
	if err != nil {
		return domain.RetrievedContext{}, fmt.Errorf("embedding query: %w", err)
	}

	result, err := p.store.Search(ctx, vectorstore.Query{
		Text:     text,
		Vector:   vector,
		Limit:    limit,
		MinScore: minScore,
	})
	if err != nil {
		return domain.RetrievedContext{}, fmt.Errorf("searching: %w", err)
	}

	mode := "vector"
	if result.Lexical {
		mode = "lexical"
	}
	metrics.RetrievalDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	p.logger.Debug("retrieved context",
		zap.String("query", text),
		zap.Int("hits", len(result.Hits)),
		zap.Bool("lexical", result.Lexical),
	)
	return domain.RetrievedContext{
		Query:   text,
		Hits:    result.Hits,
		Lexical: result.Lexical,
	}, nil
}

// DeleteDocument removes every chunk of one document from the store.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentKey string) (int, error) {
	deleted, err := p.store.DeleteByDocumentKey(ctx, documentKey)
	if err != nil {
		return 0, fmt.Errorf("deleting document %s: %w", documentKey, err)
	}
	return deleted, nil
}

// Stats reports the store's chunk count and health.
func (p *Pipeline) Stats(ctx context.Context) Stats {
	return Stats{
		ChunkCount: p.store.Count(ctx),
		Healthy:    p.store.HealthCheck(ctx),
	}
}
