// Package connector defines the external-source contract and the shared
// resilience wrapping (rate limiting, retries, error translation) every
// source client routes its outbound calls through.
package connector

import (
	"context"

	"github.com/research-os/ragd/internal/domain"
)

// Sort orders accepted by sources that support sorting.
const (
	SortRelevance   = "relevance"
	SortLastUpdated = "lastUpdatedDate"
	SortSubmitted   = "submittedDate"

	OrderAscending  = "ascending"
	OrderDescending = "descending"
)

// SearchOptions carries pagination, sorting and source filters. Fields a
// source does not support are ignored by that source.
type SearchOptions struct {
	MaxResults int
	Start      int

	SortBy    string
	SortOrder string

	// Semantic Scholar filters.
	Year          string // e.g. "2019-2021"
	FieldsOfStudy []string
	MinCitations  int
}

// Connector is one external paper source. Implementations normalize raw
// API payloads into the canonical Document at this boundary; no
// raw-shaped data crosses into the retrieval pipeline.
type Connector interface {
	// Name identifies the source, e.g. "arxiv".
	Name() string

	// Search returns normalized documents for a query. Terminal
	// failures surface as *domain.ExternalSourceError.
	Search(ctx context.Context, query string, opts SearchOptions) ([]domain.Document, error)

	// FetchByID fetches one document by its source-local id. A missing
	// item reports domain.ErrNotFound, distinct from transient failure.
	FetchByID(ctx context.Context, id string) (domain.Document, error)

	// HealthCheck issues a minimal probe with a short timeout. It never
	// retries and never returns an error.
	HealthCheck(ctx context.Context) bool
}
