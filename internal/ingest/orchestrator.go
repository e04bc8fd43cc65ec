// Package ingest orchestrates acquisition runs: fan out a search to
// every configured source, dedupe the results, and index each document
// through the pipeline with bounded concurrency.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/domain"
)

const defaultWorkers = 4

// Indexer indexes one document and reports the chunk count.
type Indexer interface {
	IndexDocument(ctx context.Context, doc domain.Document) (int, error)
}

// Notifier is told about each successfully indexed document so an
// external record keeper can track what entered the store. Notification
// is fire-and-forget from the run's point of view.
type Notifier interface {
	DocumentIndexed(ctx context.Context, documentKey string, chunks int)
}

// DocumentResult is the per-document outcome of a run.
type DocumentResult struct {
	DocumentKey string `json:"document_key"`
	Title       string `json:"title"`
	Chunks      int    `json:"chunks"`
	Error       string `json:"error,omitempty"`
}

// Report summarizes one ingest run.
type Report struct {
	RunID   string           `json:"run_id"`
	Query   string           `json:"query"`
	Found   int              `json:"found"`
	Indexed int              `json:"indexed"`
	Failed  int              `json:"failed"`
	Skipped int              `json:"skipped"`
	Results []DocumentResult `json:"results"`
}

// Config tunes the orchestrator.
type Config struct {
	// Workers bounds concurrent document indexing.
	Workers int
	// Notifier, when set, receives each successfully indexed document.
	Notifier Notifier
}

// Orchestrator runs ingest rounds over a set of sources.
type Orchestrator struct {
	connectors []connector.Connector
	indexer    Indexer
	notifier   Notifier
	workers    int
	logger     *zap.Logger
}

// New builds an orchestrator.
func New(connectors []connector.Connector, indexer Indexer, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		connectors: connectors,
		indexer:    indexer,
		notifier:   cfg.Notifier,
		workers:    cfg.Workers,
		logger:     logger,
	}
}

// Run searches every source for the query, dedupes and indexes the
// results. A failing source degrades the run instead of aborting it; a
// failing document is recorded and skipped.
func (o *Orchestrator) Run(ctx context.Context, query string, opts connector.SearchOptions) (Report, error) {
	if query == "" {
		return Report{}, domain.NewValidation("query is required")
	}
	if len(o.connectors) == 0 {
		return Report{}, domain.NewValidation("no sources configured")
	}

	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID), zap.String("query", query))
	logger.Info("starting ingest run", zap.Int("sources", len(o.connectors)))

	docs, searchErrs := o.searchAll(ctx, query, opts, logger)
	if len(docs) == 0 && len(searchErrs) == len(o.connectors) {
		return Report{}, fmt.Errorf("all %d sources failed, first: %w", len(searchErrs), searchErrs[0])
	}

	docs, skipped := dedupe(docs)
	report := Report{
		RunID:   runID,
		Query:   query,
		Found:   len(docs) + skipped,
		Skipped: skipped,
		Results: make([]DocumentResult, len(docs)),
	}

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	for i, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, doc domain.Document) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				report.Results[i] = DocumentResult{
					DocumentKey: doc.Key(),
					Title:       doc.Title,
					Error:       ctx.Err().Error(),
				}
				return
			}

			result := DocumentResult{DocumentKey: doc.Key(), Title: doc.Title}
			chunks, err := o.indexer.IndexDocument(ctx, doc)
			if err != nil {
				result.Error = err.Error()
				logger.Warn("failed to index document",
					zap.String("document", doc.Key()),
					zap.Error(err),
				)
			} else {
				result.Chunks = chunks
				if o.notifier != nil && chunks > 0 {
					o.notifier.DocumentIndexed(ctx, doc.Key(), chunks)
				}
			}
			report.Results[i] = result
		}(i, doc)
	}
	wg.Wait()

	for _, r := range report.Results {
		if r.Error != "" {
			report.Failed++
		} else if r.Chunks > 0 {
			report.Indexed++
		}
	}

	logger.Info("ingest run complete",
		zap.Int("found", report.Found),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, ctx.Err()
}

// searchAll fans the query out to every source in parallel.
func (o *Orchestrator) searchAll(
	ctx context.Context, query string, opts connector.SearchOptions, logger *zap.Logger,
) ([]domain.Document, []error) {
	var (
		mu   sync.Mutex
		docs []domain.Document
		errs []error
		wg   sync.WaitGroup
	)

	for _, c := range o.connectors {
		wg.Add(1)
		go func(c connector.Connector) {
			defer wg.Done()

			found, err := c.Search(ctx, query, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				logger.Warn("source search failed",
					zap.String("source", c.Name()),
					zap.Error(err),
				)
				return
			}
			docs = append(docs, found...)
			logger.Info("source search complete",
				zap.String("source", c.Name()),
				zap.Int("results", len(found)),
			)
		}(c)
	}
	wg.Wait()

	return docs, errs
}

// dedupe drops documents already seen under another identity: the
// source key, then DOI, then arXiv id. The first occurrence wins, so
// source order decides which copy survives.
func dedupe(docs []domain.Document) (kept []domain.Document, skipped int) {
	seen := make(map[string]struct{}, len(docs)*2)

	mark := func(key string) bool {
		if key == "" {
			return false
		}
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		return false
	}

	kept = make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		dup := mark(doc.Key())
		if doc.DOI != "" && mark("doi:"+strings.ToLower(doc.DOI)) {
			dup = true
		}
		if doc.ArxivID != "" && mark("arxiv:"+stripVersion(doc.ArxivID)) {
			dup = true
		}
		if dup {
			skipped++
			continue
		}
		kept = append(kept, doc)
	}
	return kept, skipped
}

// stripVersion removes the trailing vN from an arXiv id so different
// versions of one paper dedupe together.
func stripVersion(id string) string {
	if id == "" {
		return ""
	}
	for i := len(id) - 1; i > 0; i-- {
		c := id[i]
		if c >= '0' && c <= '9' {
			continue
		}
		if c == 'v' && i < len(id)-1 {
			return id[:i]
		}
		break
	}
	return id
}
