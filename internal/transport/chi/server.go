// Package chi is the HTTP transport: thin glue between the router and
// the core packages. Semantics live in pipeline and ingest; handlers
// only decode, clamp, delegate and encode.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/ingest"
	"github.com/research-os/ragd/internal/pipeline"
)

// Retriever is the slice of the pipeline the HTTP layer consumes.
type Retriever interface {
	Query(ctx context.Context, text string, limit int, minScore float64) (domain.RetrievedContext, error)
	DeleteDocument(ctx context.Context, documentKey string) (int, error)
	Stats(ctx context.Context) pipeline.Stats
}

// Ingestor runs one acquisition round across the configured sources.
type Ingestor interface {
	Run(ctx context.Context, query string, opts connector.SearchOptions) (ingest.Report, error)
}

// HealthChecker reports liveness of one dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Limits bounds client-supplied knobs.
type Limits struct {
	DefaultLimit    int
	MaxLimit        int
	DefaultMinScore float64
	MaxResults      int
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the retrieval API over HTTP.
type Server struct {
	retrieval     Retriever
	ingestor      Ingestor
	checks        map[string]HealthChecker
	limits        Limits
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retrieval Retriever,
	ingestor Ingestor,
	checks map[string]HealthChecker,
	limits Limits,
	logger *zap.Logger,
) *Server {
	if limits.DefaultLimit <= 0 {
		limits.DefaultLimit = 5
	}
	if limits.MaxLimit <= 0 {
		limits.MaxLimit = 50
	}
	if limits.MaxResults <= 0 {
		limits.MaxResults = 20
	}
	s := &Server{
		retrieval: retrieval,
		ingestor:  ingestor,
		checks:    checks,
		limits:    limits,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		externalSourceHandler,
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, codeDimensionMismatch),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrLexicalUnsupported, http.StatusNotImplemented, codeLexicalUnsupported),
		sentinelHandler(domain.ErrSchema, http.StatusInternalServerError, codeSchemaError),
		sentinelHandler(domain.ErrTransient, http.StatusServiceUnavailable, codeSourceUnavailable),
	}
	return s
}

// Routes mounts the API on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/ingest", s.Ingest)
	r.Post("/v1/query", s.Query)
	r.Delete("/v1/documents/{source}/{id}", s.DeleteDocument)
	r.Get("/v1/stats", s.GetStats)
	r.Get("/health", s.Health)
	r.Get("/metrics", s.Metrics)
}

type ingestRequest struct {
	Query         string   `json:"query"`
	MaxResults    int      `json:"max_results,omitempty"`
	SortBy        string   `json:"sort_by,omitempty"`
	SortOrder     string   `json:"sort_order,omitempty"`
	Year          string   `json:"year,omitempty"`
	FieldsOfStudy []string `json:"fields_of_study,omitempty"`
	MinCitations  int      `json:"min_citations,omitempty"`
}

// Ingest handles POST /v1/ingest.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > s.limits.MaxResults {
		maxResults = s.limits.MaxResults
	}

	report, err := s.ingestor.Run(r.Context(), req.Query, connector.SearchOptions{
		MaxResults:    maxResults,
		SortBy:        req.SortBy,
		SortOrder:     req.SortOrder,
		Year:          req.Year,
		FieldsOfStudy: req.FieldsOfStudy,
		MinCitations:  req.MinCitations,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

type queryRequest struct {
	Query    string   `json:"query"`
	Limit    int      `json:"limit,omitempty"`
	MinScore *float64 `json:"min_score,omitempty"`
	Format   bool     `json:"format,omitempty"`
}

type queryResponse struct {
	Query   string        `json:"query"`
	Hits    []hitResponse `json:"hits"`
	Lexical bool          `json:"lexical,omitempty"`
	Context string        `json:"context,omitempty"`
}

type hitResponse struct {
	ID          string            `json:"id"`
	DocumentKey string            `json:"document_key"`
	ChunkIndex  int               `json:"chunk_index"`
	Content     string            `json:"content"`
	Section     string            `json:"section,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Score       float64           `json:"score"`
}

// Query handles POST /v1/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.limits.DefaultLimit
	}
	if limit > s.limits.MaxLimit {
		limit = s.limits.MaxLimit
	}

	minScore := s.limits.DefaultMinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	if minScore < 0 || minScore > 1 {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("min_score must be in [0,1], got %v", minScore))
		return
	}

	rc, err := s.retrieval.Query(r.Context(), req.Query, limit, minScore)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp := queryResponse{
		Query:   rc.Query,
		Hits:    make([]hitResponse, len(rc.Hits)),
		Lexical: rc.Lexical,
	}
	for i, h := range rc.Hits {
		resp.Hits[i] = hitResponse{
			ID:          h.ID,
			DocumentKey: h.DocumentKey,
			ChunkIndex:  h.ChunkIndex,
			Content:     h.Content,
			Section:     h.Section,
			Metadata:    h.Metadata,
			Score:       h.Score,
		}
	}
	if req.Format {
		resp.Context = pipeline.FormatContext(rc)
	}

	writeJSON(w, http.StatusOK, resp)
}

type deleteResponse struct {
	DocumentKey string `json:"document_key"`
	Deleted     int    `json:"deleted"`
}

// DeleteDocument handles DELETE /v1/documents/{source}/{id}.
// Deleting an absent document is not an error; Deleted is 0.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	id := chi.URLParam(r, "id")
	key := source + ":" + id

	deleted, err := s.retrieval.DeleteDocument(r.Context(), key)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{DocumentKey: key, Deleted: deleted})
}

// GetStats handles GET /v1/stats.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.retrieval.Stats(r.Context()))
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /health. Any failing dependency degrades the
// status and flips the HTTP code to 503.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "healthy",
		Checks: make(map[string]string, len(s.checks)),
	}
	httpStatus := http.StatusOK
	for name, check := range s.checks {
		if check.HealthCheck(r.Context()) {
			resp.Checks[name] = "ok"
			continue
		}
		resp.Checks[name] = "unavailable"
		resp.Status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type errorCode string

const (
	codeBadRequest         errorCode = "bad_request"
	codeUnauthorized       errorCode = "unauthorized"
	codeValidationFailed   errorCode = "validation_failed"
	codeDimensionMismatch  errorCode = "dimension_mismatch"
	codeNotFound           errorCode = "not_found"
	codeRateLimited        errorCode = "rate_limited"
	codeSourceUnavailable  errorCode = "source_unavailable"
	codeLexicalUnsupported errorCode = "keyword_search_not_supported"
	codeSchemaError        errorCode = "schema_error"
	codeInternalError      errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	var srcErr *domain.ExternalSourceError
	if errors.As(err, &srcErr) {
		return fmt.Sprintf("source %s unavailable", srcErr.Source)
	}
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrDimensionMismatch,
		domain.ErrNotFound,
		domain.ErrRateLimited,
		domain.ErrLexicalUnsupported,
		domain.ErrSchema,
		domain.ErrTransient,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// externalSourceHandler maps a failed upstream source to 502. It runs
// before the sentinel handlers so the wrapped transient sentinel does
// not shadow the source attribution.
func externalSourceHandler(w http.ResponseWriter, err error, msg string) bool {
	var srcErr *domain.ExternalSourceError
	if !errors.As(err, &srcErr) {
		return false
	}
	writeError(w, http.StatusBadGateway, codeSourceUnavailable, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
