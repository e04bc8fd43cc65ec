// Package openai implements the embedding provider against an
// OpenAI-compatible embeddings API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/metrics"
)

const (
	defaultBatchSize   = 100
	defaultParallelism = 4

	dimensionSmall = 1536
	dimensionLarge = 3072
)

// Config holds the embedding provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Dimensions  int
	BatchSize   int
	Parallelism int
	User        string
	Provider    string
	Logger      *zap.Logger
}

// Provider embeds text batches through the OpenAI-compatible API. It
// implements domain.EmbeddingProvider.
type Provider struct {
	client      *openai.Client
	model       openai.EmbeddingModel
	dimensions  int
	batchSize   int
	parallelism int
	user        string
	provider    string
	logger      *zap.Logger
}

// New creates an OpenAI-compatible embedding provider.
func New(cfg *Config) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Provider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       openai.EmbeddingModel(cfg.Model),
		dimensions:  cfg.Dimensions,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
		user:        cfg.User,
		provider:    cfg.Provider,
		logger:      cfg.Logger,
	}
}

// Dimension returns the configured vector width, falling back to the
// model's documented width.
func (p *Provider) Dimension() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	if strings.Contains(string(p.model), "large") {
		return dimensionLarge
	}
	return dimensionSmall
}

// Embed returns one vector per input text, in input order. Texts are
// split into batches of at most batchSize and embedded with bounded
// parallelism; any batch failure fails the whole call.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type batch struct {
		offset int
		texts  []string
	}
	var batches []batch
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batches = append(batches, batch{offset: start, texts: texts[start:end]})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(texts))
	sem := make(chan struct{}, p.parallelism)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, b := range batches {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			embedded, err := p.embedBatch(ctx, b.texts)
			if err != nil {
				fail(err)
				return
			}
			for i, vec := range embedded {
				vectors[b.offset+i] = vec
			}
		}(b)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Debug("embedded texts",
		zap.Int("texts", len(texts)),
		zap.Int("batches", len(batches)),
	)
	return vectors, nil
}

// EmbedOne embeds a single text, typically a query.
func (p *Provider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch performs one API call with transport-level metrics.
func (p *Provider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          p.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		User:           p.user,
	}
	if p.dimensions > 0 {
		req.Dimensions = p.dimensions
	}

	start := time.Now()

	resp, err := p.client.CreateEmbeddings(ctx, req)

	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(p.provider, string(p.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, string(p.model), "api_error").Inc()
		return nil, parseAPIError(err)
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(p.provider, string(p.model), "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, string(p.model), "short_response").Inc()
		return nil, fmt.Errorf("embedding response has %d vectors for %d texts: %w",
			len(resp.Data), len(texts), domain.ErrTransient)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(p.provider, string(p.model), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(p.provider, string(p.model)).Observe(duration.Seconds())
	metrics.EmbeddingTextsTotal.WithLabelValues(p.provider, string(p.model)).Add(float64(len(texts)))

	if resp.Usage.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(p.provider, string(p.model), "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.EmbeddingTokensTotal.WithLabelValues(p.provider, string(p.model), "total").Add(float64(resp.Usage.TotalTokens))
	}

	// The API may return vectors out of order; place by index.
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range: %w",
				item.Index, domain.ErrTransient)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response
// and tags it with the matching taxonomy sentinel.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, detail, sentinelForStatus(reqErr.HTTPStatusCode))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, sentinelForStatus(apiErr.HTTPStatusCode))
	}

	return fmt.Errorf("embedding request failed: %w", domain.ErrTransient)
}

func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case status >= http.StatusInternalServerError:
		return domain.ErrTransient
	default:
		return domain.ErrValidation
	}
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
