// Package chunker splits document bodies into overlapping, size-bounded
// chunks by greedy sentence accumulation. Output is fully deterministic
// for a given input and configuration.
package chunker

import (
	"strings"

	"github.com/research-os/ragd/internal/domain"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 50
	defaultMinChunkSize = 100
)

// Config holds chunking parameters.
type Config struct {
	// ChunkSize is the maximum chunk length in characters. A single
	// sentence longer than ChunkSize is emitted as its own oversized
	// chunk rather than truncated.
	ChunkSize int
	// ChunkOverlap is the number of trailing characters of a chunk
	// re-seeded into the next one.
	ChunkOverlap int
	// MinChunkSize drops or merges forward accumulations shorter than
	// this, except when the document yields a single chunk.
	MinChunkSize int
}

// Chunker splits documents into retrieval units.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	minChunkSize int
}

// New creates a Chunker, applying defaults for unset fields.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = defaultMinChunkSize
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 4
	}
	return &Chunker{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		minChunkSize: cfg.MinChunkSize,
	}
}

// Chunk splits the document body into ordered chunks carrying the
// document's citation metadata. An empty body is a validation error.
func (c *Chunker) Chunk(doc domain.Document) ([]domain.Chunk, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	sentences := splitSentences(doc.Abstract)
	meta := doc.ChunkMetadata()

	var chunks []domain.Chunk
	emit := func(content string) {
		chunks = append(chunks, domain.Chunk{
			DocumentKey: doc.Key(),
			Index:       len(chunks),
			Content:     content,
			Metadata:    meta,
		})
	}

	cur := ""
	sentencesInCur := 0
	for _, sentence := range sentences {
		if sentencesInCur > 0 && len(cur)+1+len(sentence) > c.chunkSize {
			content := strings.TrimSpace(cur)
			if len(content) < c.minChunkSize {
				// Merge forward instead of emitting an undersized chunk.
				cur = cur + " " + sentence
				sentencesInCur++
				continue
			}
			emit(content)
			cur = tail(content, c.chunkOverlap) + " " + sentence
			sentencesInCur = 1
			continue
		}
		if cur == "" {
			cur = sentence
		} else {
			cur = cur + " " + sentence
		}
		sentencesInCur++
	}

	trailing := strings.TrimSpace(cur)
	switch {
	case trailing == "":
	case len(trailing) >= c.minChunkSize:
		emit(trailing)
	case len(chunks) == 0:
		// A document shorter than minChunkSize still yields one chunk.
		emit(trailing)
	default:
		// Sub-threshold trailing text is dropped, not emitted undersized.
	}

	return chunks, nil
}

// splitSentences splits text into sentence-like units on runs of the
// terminators '.', '!' and '?', trimming whitespace and dropping empty
// units.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// tail returns the last n runes of s, cut at a rune boundary.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
