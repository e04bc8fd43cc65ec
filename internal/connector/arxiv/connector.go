// Package arxiv implements the arXiv export API connector. Responses
// are Atom XML; entries are normalized into canonical documents at this
// boundary.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/metrics"
	"github.com/research-os/ragd/internal/ratelimit"
	"github.com/research-os/ragd/internal/retry"
)

const (
	sourceName     = "arxiv"
	defaultBaseURL = "http://export.arxiv.org/api/query"
	userAgent      = "ragd/1.0 (https://research-os.dev)"

	defaultTimeout     = 30 * time.Second
	healthCheckTimeout = 5 * time.Second

	// Polite-use ceiling documented by the export API.
	defaultRatePerSecond = 3

	defaultMaxResults = 100
	maxResultsCeiling = 1000
)

// Config tunes the connector. Zero values fall back to polite defaults.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec int

	Retry retry.Executor

	Logger *zap.Logger
}

// Connector talks to the arXiv export API.
type Connector struct {
	baseURL string
	client  *http.Client
	caller  *connector.Caller
	logger  *zap.Logger
}

// New builds an arXiv connector with its own rate limiter.
func New(cfg Config) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = defaultRatePerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limiter := ratelimit.New(cfg.RequestsPerSec, time.Second)
	return &Connector{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		caller:  connector.NewCaller(sourceName, limiter, cfg.Retry, cfg.Logger),
		logger:  cfg.Logger.With(zap.String("source", sourceName)),
	}
}

func (c *Connector) Name() string { return sourceName }

// Search queries the export API with search_query=all:<query>.
func (c *Connector) Search(ctx context.Context, query string, opts connector.SearchOptions) ([]domain.Document, error) {
	if query == "" {
		return nil, domain.NewValidation("query is required")
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxResultsCeiling {
		maxResults = maxResultsCeiling
	}
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = connector.SortRelevance
	}
	sortOrder := opts.SortOrder
	if sortOrder == "" {
		sortOrder = connector.OrderDescending
	}

	params := url.Values{
		"search_query": {"all:" + query},
		"start":        {strconv.Itoa(opts.Start)},
		"max_results":  {strconv.Itoa(maxResults)},
		"sortBy":       {sortBy},
		"sortOrder":    {sortOrder},
	}

	c.logger.Info("searching papers",
		zap.String("query", query),
		zap.Int("max_results", maxResults),
	)

	result, err := connector.Call(ctx, c.caller, func(ctx context.Context) (*feed, error) {
		return c.query(ctx, params)
	})
	if err != nil {
		metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "search", "error").Inc()
		return nil, err
	}
	metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "search", "success").Inc()

	docs := make([]domain.Document, 0, len(result.Entries))
	for _, e := range result.Entries {
		docs = append(docs, normalizeEntry(e))
	}
	c.logger.Info("search complete", zap.Int("results", len(docs)))
	return docs, nil
}

// FetchByID fetches one paper via id_list. An empty feed means the id
// does not exist.
func (c *Connector) FetchByID(ctx context.Context, id string) (domain.Document, error) {
	if id == "" {
		return domain.Document{}, domain.NewValidation("arxiv id is required")
	}

	params := url.Values{"id_list": {id}}

	result, err := connector.Call(ctx, c.caller, func(ctx context.Context) (*feed, error) {
		f, err := c.query(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(f.Entries) == 0 || f.Entries[0].Title == "Error" {
			// Unknown ids come back either as an empty feed or as a
			// synthetic entry titled "Error".
			return nil, fmt.Errorf("paper %s: %w", id, domain.ErrNotFound)
		}
		return f, nil
	})
	if err != nil {
		metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "fetch", "error").Inc()
		return domain.Document{}, err
	}
	metrics.ConnectorRequestsTotal.WithLabelValues(sourceName, "fetch", "success").Inc()

	return normalizeEntry(result.Entries[0]), nil
}

// HealthCheck probes the API with a one-result query, bypassing the
// limiter and retries.
func (c *Connector) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	params := url.Values{
		"search_query": {"all:test"},
		"max_results":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusBadRequest
}

// Categories returns the major arXiv taxonomy entries the ingest
// surface exposes for filtering.
func (c *Connector) Categories() []Category {
	return []Category{
		{ID: "cs.AI", Name: "Artificial Intelligence"},
		{ID: "cs.CL", Name: "Computation and Language"},
		{ID: "cs.CV", Name: "Computer Vision and Pattern Recognition"},
		{ID: "cs.LG", Name: "Machine Learning"},
		{ID: "cs.NE", Name: "Neural and Evolutionary Computing"},
		{ID: "stat.ML", Name: "Machine Learning (Statistics)"},
		{ID: "math.OC", Name: "Optimization and Control"},
		{ID: "physics.comp-ph", Name: "Computational Physics"},
		{ID: "q-bio", Name: "Quantitative Biology"},
		{ID: "quant-ph", Name: "Quantum Physics"},
	}
}

// query performs one GET against the export API and decodes the feed.
func (c *Connector) query(ctx context.Context, params url.Values) (*feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, connector.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := connector.ClassifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connector.ClassifyTransportError(err)
	}

	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decoding atom feed: %w", err)
	}
	return &f, nil
}
