// Package chromem implements the vector store on the embedded chromem-go
// database. It serves single-node deployments and tests without a Redis
// instance; persistence to disk is optional.
package chromem

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	chromemgo "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/vectorstore"
)

// Compile-time check: Store implements vectorstore.Store.
var _ vectorstore.Store = (*Store)(nil)

const defaultCollection = "chunks"

// Config holds store parameters.
type Config struct {
	// Path enables on-disk persistence when non-empty; empty keeps the
	// database in memory.
	Path       string
	Collection string
	Dimension  int
	Logger     *zap.Logger
}

// Store implements vectorstore.Store on chromem-go.
type Store struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
	dimension  int
	logger     *zap.Logger
}

// New creates the store and its collection eagerly; there is no lazy
// schema step to fail later.
func New(cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var (
		db  *chromemgo.DB
		err error
	)
	if cfg.Path != "" {
		db, err = chromemgo.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("opening persistent db: %w", err)
		}
	} else {
		db = chromemgo.NewDB()
	}

	// All vectors are supplied externally; the collection must never
	// compute its own embeddings.
	rejectEmbedding := func(_ context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("no embedding provided for %q", text)
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	return &Store{
		db:         db,
		collection: collection,
		dimension:  cfg.Dimension,
		logger:     cfg.Logger,
	}, nil
}

// InitializeSchema is a no-op; the collection is created in New.
func (s *Store) InitializeSchema(_ context.Context) error {
	return nil
}

// AddChunks upserts chunks with their vectors.
func (s *Store) AddChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d chunks and %d vectors: %w",
			len(chunks), len(vectors), domain.ErrDimensionMismatch)
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromemgo.Document, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) != s.dimension {
			return fmt.Errorf("chunk %s has vector width %d, store expects %d: %w",
				chunk.ID(), len(vectors[i]), s.dimension, domain.ErrDimensionMismatch)
		}

		meta := map[string]string{
			"document_key": chunk.DocumentKey,
			"chunk_index":  strconv.Itoa(chunk.Index),
		}
		if chunk.Section != "" {
			meta["section"] = chunk.Section
		}
		for k, v := range chunk.Metadata {
			meta[k] = v
		}

		docs[i] = chromemgo.Document{
			ID:        chunk.ID(),
			Content:   chunk.Content,
			Embedding: vectors[i],
			Metadata:  meta,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("stored chunks", zap.Int("count", len(chunks)))
	return nil
}

// Search runs a similarity query. This backend has no text index, so a
// query without a vector reports domain.ErrLexicalUnsupported.
func (s *Store) Search(ctx context.Context, q vectorstore.Query) (vectorstore.Result, error) {
	if q.Limit <= 0 {
		return vectorstore.Result{}, domain.NewValidation("limit must be positive")
	}
	if len(q.Vector) == 0 {
		return vectorstore.Result{}, fmt.Errorf("text-only query: %w", domain.ErrLexicalUnsupported)
	}
	if len(q.Vector) != s.dimension {
		return vectorstore.Result{}, fmt.Errorf("query vector width %d, store expects %d: %w",
			len(q.Vector), s.dimension, domain.ErrDimensionMismatch)
	}

	limit := q.Limit
	if count := s.collection.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return vectorstore.Result{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, q.Vector, limit, q.Filters, nil)
	if err != nil {
		return vectorstore.Result{}, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]domain.SearchHit, 0, len(results))
	for _, r := range results {
		score := normalizeSimilarity(float64(r.Similarity))
		if q.MinScore > 0 && score < q.MinScore {
			continue
		}

		hit := domain.SearchHit{
			ID:          r.ID,
			DocumentKey: r.Metadata["document_key"],
			Content:     r.Content,
			Section:     r.Metadata["section"],
			Score:       score,
		}
		if idx, err := strconv.Atoi(r.Metadata["chunk_index"]); err == nil {
			hit.ChunkIndex = idx
		}
		if meta := extraMetadata(r.Metadata); len(meta) > 0 {
			hit.Metadata = meta
		}
		hits = append(hits, hit)
	}

	return vectorstore.Result{Hits: hits}, nil
}

// DeleteByDocumentKey removes every chunk of the document.
func (s *Store) DeleteByDocumentKey(ctx context.Context, documentKey string) (int, error) {
	if documentKey == "" {
		return 0, domain.NewValidation("document key is required")
	}

	before := s.collection.Count()
	where := map[string]string{"document_key": documentKey}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return 0, fmt.Errorf("deleting chunks of %s: %w", documentKey, err)
	}
	deleted := before - s.collection.Count()

	if deleted > 0 {
		s.logger.Info("deleted document chunks",
			zap.String("document", documentKey),
			zap.Int("count", deleted),
		)
	}
	return deleted, nil
}

// Count returns the stored chunk total.
func (s *Store) Count(_ context.Context) int {
	return s.collection.Count()
}

// HealthCheck reports true; the embedded database has no remote side
// that could be down.
func (s *Store) HealthCheck(_ context.Context) bool {
	return true
}

// Close is a no-op for the embedded database.
func (s *Store) Close() {}

// normalizeSimilarity maps cosine similarity in [-1,1] to [0,1],
// clamping anti-correlated vectors to zero.
func normalizeSimilarity(similarity float64) float64 {
	return max(0, similarity)
}

// extraMetadata strips the structural keys, leaving only the document
// citation metadata carried on the chunk.
func extraMetadata(meta map[string]string) map[string]string {
	extra := make(map[string]string)
	for k, v := range meta {
		switch k {
		case "document_key", "chunk_index", "section":
		default:
			extra[k] = v
		}
	}
	return extra
}
