package domain

// SearchHit is one vector-store match. Score is a normalized similarity
// in [0,1]: 1 means identical, 0 means maximally dissimilar under the
// backend's distance metric. Ephemeral, never persisted.
type SearchHit struct {
	ID          string
	DocumentKey string
	ChunkIndex  int
	Content     string
	Section     string
	Metadata    map[string]string
	Score       float64
}

// RetrievedContext is the query plus its ranked hits, each at or above
// the caller's minimum score. Lexical is set when the store answered
// via its keyword fallback instead of vector similarity.
type RetrievedContext struct {
	Query   string
	Hits    []SearchHit
	Lexical bool
}
