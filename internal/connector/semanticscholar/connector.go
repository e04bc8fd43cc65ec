// Package semanticscholar implements the Semantic Scholar Graph API
// connector. An API key raises the rate limit from 1 to 100 requests
// per second and is sent via the x-api-key header.
package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/metrics"
	"github.com/research-os/ragd/internal/ratelimit"
	"github.com/research-os/ragd/internal/retry"
)

const (
	sourceName     = "semantic_scholar"
	defaultBaseURL = "https://api.semanticscholar.org/graph/v1"
	userAgent      = "ragd/1.0 (https://research-os.dev)"

	defaultTimeout     = 30 * time.Second
	healthCheckTimeout = 5 * time.Second

	defaultLimit = 10
	limitCeiling = 100
)

// defaultFields is the projection requested on every paper endpoint.
var defaultFields = strings.Join([]string{
	"paperId",
	"title",
	"abstract",
	"year",
	"venue",
	"authors",
	"citationCount",
	"referenceCount",
	"influentialCitationCount",
	"isOpenAccess",
	"fieldsOfStudy",
	"publicationTypes",
	"publicationDate",
	"journal",
	"externalIds",
	"url",
	"openAccessPdf",
}, ",")

// Config tunes the connector.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	Retry retry.Executor

	Logger *zap.Logger
}

// Connector talks to the Semantic Scholar Graph API.
type Connector struct {
	baseURL string
	apiKey  string
	client  *http.Client
	caller  *connector.Caller
	logger  *zap.Logger
}

// New builds a Semantic Scholar connector. The rate limiter is sized
// from the presence of an API key.
func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	perSecond := 1
	if cfg.APIKey != "" {
		perSecond = 100
	}
	limiter := ratelimit.New(perSecond, time.Second)

	return &Connector{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		caller:  connector.NewCaller(sourceName, limiter, cfg.Retry, cfg.Logger),
		logger:  cfg.Logger.With(zap.String("source", sourceName)),
	}
}

func (c *Connector) Name() string { return sourceName }

// Search queries /paper/search with the configured projection and the
// options' filters.
func (c *Connector) Search(ctx context.Context, query string, opts connector.SearchOptions) ([]domain.Document, error) {
	if query == "" {
		return nil, domain.NewValidation("query is required")
	}

	limit := opts.MaxResults
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > limitCeiling {
		limit = limitCeiling
	}

	params := url.Values{
		"query":  {query},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(opts.Start)},
		"fields": {defaultFields},
	}
	if opts.Year != "" {
		params.Set("year", opts.Year)
	}
	if len(opts.FieldsOfStudy) > 0 {
		params.Set("fieldsOfStudy", strings.Join(opts.FieldsOfStudy, ","))
	}
	if opts.MinCitations > 0 {
		params.Set("minCitationCount", strconv.Itoa(opts.MinCitations))
	}

	c.logger.Info("searching papers",
		zap.String("query", query),
		zap.Int("limit", limit),
	)

	var result searchResponse
	err := c.caller.Do(ctx, func(ctx context.Context) error {
		return c.get(ctx, "/paper/search", params, &result)
	})
	if err != nil {
		metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "search", "error").Inc()
		return nil, err
	}
	metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "search", "success").Inc()

	docs := make([]domain.Document, 0, len(result.Data))
	for _, p := range result.Data {
		docs = append(docs, normalizePaper(p))
	}
	c.logger.Info("search complete",
		zap.Int("results", len(docs)),
		zap.Int("total", result.Total),
	)
	return docs, nil
}

// FetchByID fetches one paper. The id may be a Semantic Scholar id, a
// DOI, or an arXiv id; the API resolves all three.
func (c *Connector) FetchByID(ctx context.Context, id string) (domain.Document, error) {
	if id == "" {
		return domain.Document{}, domain.NewValidation("paper id is required")
	}

	params := url.Values{"fields": {defaultFields}}

	var result paper
	err := c.caller.Do(ctx, func(ctx context.Context) error {
		return c.get(ctx, "/paper/"+url.PathEscape(id), params, &result)
	})
	if err != nil {
		metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "fetch", "error").Inc()
		return domain.Document{}, err
	}
	metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "fetch", "success").Inc()
	return normalizePaper(result), nil
}

// Recommendations returns papers related to the given one.
func (c *Connector) Recommendations(ctx context.Context, id string, limit int) ([]domain.Document, error) {
	if id == "" {
		return nil, domain.NewValidation("paper id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > limitCeiling {
		limit = limitCeiling
	}

	params := url.Values{
		"limit":  {strconv.Itoa(limit)},
		"fields": {defaultFields},
	}

	var result recommendationsResponse
	err := c.caller.Do(ctx, func(ctx context.Context) error {
		return c.get(ctx, "/paper/"+url.PathEscape(id)+"/recommendations", params, &result)
	})
	if err != nil {
		metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "recommendations", "error").Inc()
		return nil, err
	}
	metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "recommendations", "success").Inc()

	docs := make([]domain.Document, 0, len(result.RecommendedPapers))
	for _, p := range result.RecommendedPapers {
		docs = append(docs, normalizePaper(p))
	}
	return docs, nil
}

// HealthCheck probes /paper/search with a one-result query, bypassing
// the limiter and retries.
func (c *Connector) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	params := url.Values{"query": {"test"}, "limit": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/paper/search?"+params.Encode(), nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusBadRequest
}

func (c *Connector) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

// get performs one GET and decodes the JSON body into out.
func (c *Connector) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return connector.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := connector.ClassifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
