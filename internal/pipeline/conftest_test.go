package pipeline

import (
	"context"
	"fmt"

	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/vectorstore"
)

// mockChunker returns canned chunks or an error.
type mockChunker struct {
	chunks []domain.Chunk
	err    error
	calls  int
}

func (m *mockChunker) Chunk(_ domain.Document) ([]domain.Chunk, error) {
	m.calls++
	return m.chunks, m.err
}

// mockEmbedder returns constant-width vectors or an error.
type mockEmbedder struct {
	dimension int
	err       error
	embedded  [][]string
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.embedded = append(m.embedded, texts)
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, m.dimension)
		vectors[i][0] = float32(i)
	}
	return vectors, nil
}

func (m *mockEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *mockEmbedder) Dimension() int { return m.dimension }

// mockStore records writes and serves canned search results.
type mockStore struct {
	added      []domain.Chunk
	addErr     error
	searchRes  vectorstore.Result
	searchErr  error
	lastQuery  vectorstore.Query
	deleted    []string
	deleteN    int
	deleteErr  error
	count      int
	healthy    bool
	initCalled bool
}

func (m *mockStore) InitializeSchema(_ context.Context) error {
	m.initCalled = true
	return nil
}

func (m *mockStore) AddChunks(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if m.addErr != nil {
		return m.addErr
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("mock got %d chunks and %d vectors", len(chunks), len(vectors))
	}
	m.added = append(m.added, chunks...)
	return nil
}

func (m *mockStore) Search(_ context.Context, q vectorstore.Query) (vectorstore.Result, error) {
	m.lastQuery = q
	if m.searchErr != nil {
		return vectorstore.Result{}, m.searchErr
	}
	return m.searchRes, nil
}

func (m *mockStore) DeleteByDocumentKey(_ context.Context, documentKey string) (int, error) {
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.deleted = append(m.deleted, documentKey)
	return m.deleteN, nil
}

func (m *mockStore) Count(_ context.Context) int { return m.count }

func (m *mockStore) HealthCheck(_ context.Context) bool { return m.healthy }

func (m *mockStore) Close() {}
