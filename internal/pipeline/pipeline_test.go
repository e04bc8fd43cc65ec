package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/vectorstore"
)

func attentionDoc() domain.Document {
	return domain.Document{
		Source:   "arxiv",
		SourceID: "1706.03762",
		Title:    "Attention Is All You Need",
		Abstract: "The dominant sequence transduction models.",
	}
}

func docChunks(n int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			DocumentKey: "arxiv:1706.03762",
			Index:       i,
			Content:     "Chunk content.",
		}
	}
	return chunks
}

func TestIndexDocument(t *testing.T) {
	chunker := &mockChunker{chunks: docChunks(3)}
	embedder := &mockEmbedder{dimension: 4}
	store := &mockStore{}
	p := New(chunker, embedder, store, zap.NewNop())

	n, err := p.IndexDocument(context.Background(), attentionDoc())
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if n != 3 {
		t.Fatalf("indexed %d chunks, want 3", n)
	}
	if len(store.added) != 3 {
		t.Fatalf("store received %d chunks", len(store.added))
	}
	if len(embedder.embedded) != 1 || len(embedder.embedded[0]) != 3 {
		t.Fatalf("embedder calls = %v", embedder.embedded)
	}
}

func TestIndexDocument_StageAttribution(t *testing.T) {
	boom := errors.New("boom")

	cases := []struct {
		name      string
		chunker   *mockChunker
		embedder  *mockEmbedder
		store     *mockStore
		wantStage string
	}{
		{
			name:      "chunking",
			chunker:   &mockChunker{err: domain.NewValidation("empty body")},
			embedder:  &mockEmbedder{dimension: 4},
			store:     &mockStore{},
			wantStage: StageChunking,
		},
		{
			name:      "embedding",
			chunker:   &mockChunker{chunks: docChunks(2)},
			embedder:  &mockEmbedder{dimension: 4, err: boom},
			store:     &mockStore{},
			wantStage: StageEmbedding,
		},
		{
			name:      "storing",
			chunker:   &mockChunker{chunks: docChunks(2)},
			embedder:  &mockEmbedder{dimension: 4},
			store:     &mockStore{addErr: boom},
			wantStage: StageStoring,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(tc.chunker, tc.embedder, tc.store, zap.NewNop())
			_, err := p.IndexDocument(context.Background(), attentionDoc())

			var stageErr *StageError
			if !errors.As(err, &stageErr) {
				t.Fatalf("expected StageError, got %v", err)
			}
			if stageErr.Stage != tc.wantStage {
				t.Fatalf("stage = %q, want %q", stageErr.Stage, tc.wantStage)
			}
		})
	}
}

func TestIndexDocument_NoChunksIsNotAnError(t *testing.T) {
	p := New(&mockChunker{}, &mockEmbedder{dimension: 4}, &mockStore{}, zap.NewNop())

	n, err := p.IndexDocument(context.Background(), attentionDoc())
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if n != 0 {
		t.Fatalf("indexed %d chunks, want 0", n)
	}
}

func TestQuery(t *testing.T) {
	store := &mockStore{
		searchRes: vectorstore.Result{
			Hits: []domain.SearchHit{
				{ID: "arxiv:1706.03762:0", DocumentKey: "arxiv:1706.03762", Content: "Attention.", Score: 0.91},
			},
		},
	}
	p := New(&mockChunker{}, &mockEmbedder{dimension: 4}, store, zap.NewNop())

	rc, err := p.Query(context.Background(), "what is attention", 5, 0.3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if rc.Query != "what is attention" {
		t.Errorf("query = %q", rc.Query)
	}
	if len(rc.Hits) != 1 || rc.Hits[0].Score != 0.91 {
		t.Errorf("hits = %+v", rc.Hits)
	}
	if rc.Lexical {
		t.Error("should not be lexical")
	}

	// The store query carries the embedded vector plus the raw text for
	// backends that fall back to lexical search.
	if len(store.lastQuery.Vector) != 4 {
		t.Errorf("query vector width = %d", len(store.lastQuery.Vector))
	}
	if store.lastQuery.Text != "what is attention" {
		t.Errorf("query text = %q", store.lastQuery.Text)
	}
	if store.lastQuery.Limit != 5 || store.lastQuery.MinScore != 0.3 {
		t.Errorf("limit/minScore = %d/%v", store.lastQuery.Limit, store.lastQuery.MinScore)
	}
}

func TestQuery_EmptyTextIsValidationError(t *testing.T) {
	p := New(&mockChunker{}, &mockEmbedder{dimension: 4}, &mockStore{}, zap.NewNop())

	_, err := p.Query(context.Background(), "", 5, 0)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestQuery_LexicalFlagPropagates(t *testing.T) {
	store := &mockStore{searchRes: vectorstore.Result{Lexical: true}}
	p := New(&mockChunker{}, &mockEmbedder{dimension: 4}, store, zap.NewNop())

	rc, err := p.Query(context.Background(), "attention", 5, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !rc.Lexical {
		t.Fatal("lexical flag lost")
	}
}

func TestDeleteDocument(t *testing.T) {
	store := &mockStore{deleteN: 4}
	p := New(&mockChunker{}, &mockEmbedder{dimension: 4}, store, zap.NewNop())

	deleted, err := p.DeleteDocument(context.Background(), "arxiv:1706.03762")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if deleted != 4 {
		t.Fatalf("deleted = %d, want 4", deleted)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "arxiv:1706.03762" {
		t.Fatalf("store deletions = %v", store.deleted)
	}
}

func TestStats(t *testing.T) {
	store := &mockStore{count: 42, healthy: true}
	p := New(&mockChunker{}, &mockEmbedder{dimension: 4}, store, zap.NewNop())

	stats := p.Stats(context.Background())
	if stats.ChunkCount != 42 || !stats.Healthy {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestFormatContext(t *testing.T) {
	rc := domain.RetrievedContext{
		Query: "what is attention",
		Hits: []domain.SearchHit{
			{DocumentKey: "arxiv:1706.03762", Content: "Attention is a mechanism.", Score: 0.91},
			{DocumentKey: "semantic_scholar:abc", Content: "Self-attention relates positions.", Score: 0.74},
		},
	}

	got := FormatContext(rc)

	if !strings.HasPrefix(got, "Query: what is attention\n\nRelevant Context:\n\n") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "[1] (Score: 0.91, Document: arxiv:1706.03762)\nAttention is a mechanism.") {
		t.Errorf("missing first excerpt:\n%s", got)
	}
	if !strings.Contains(got, "[2] (Score: 0.74, Document: semantic_scholar:abc)\nSelf-attention relates positions.") {
		t.Errorf("missing second excerpt:\n%s", got)
	}
	if !strings.Contains(got, "\n\n---\n\n") {
		t.Errorf("missing separator:\n%s", got)
	}
}

func TestFormatContext_NoHits(t *testing.T) {
	got := FormatContext(domain.RetrievedContext{Query: "obscure topic"})
	if !strings.Contains(got, "No relevant context found") {
		t.Errorf("unexpected output: %s", got)
	}
	if !strings.Contains(got, "obscure topic") {
		t.Errorf("query missing: %s", got)
	}
}
