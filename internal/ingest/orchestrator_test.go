package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/domain"
)

// mockConnector serves canned search results.
type mockConnector struct {
	name string
	docs []domain.Document
	err  error
}

func (m *mockConnector) Name() string { return m.name }

func (m *mockConnector) Search(_ context.Context, _ string, _ connector.SearchOptions) ([]domain.Document, error) {
	return m.docs, m.err
}

func (m *mockConnector) FetchByID(_ context.Context, _ string) (domain.Document, error) {
	return domain.Document{}, domain.ErrNotFound
}

func (m *mockConnector) HealthCheck(_ context.Context) bool { return true }

// mockIndexer counts documents and fails the keys listed in failOn.
type mockIndexer struct {
	mu      sync.Mutex
	indexed []string
	failOn  map[string]error
	active  atomic.Int32
	peak    atomic.Int32
}

func (m *mockIndexer) IndexDocument(_ context.Context, doc domain.Document) (int, error) {
	cur := m.active.Add(1)
	for {
		peak := m.peak.Load()
		if cur <= peak || m.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer m.active.Add(-1)

	if err, ok := m.failOn[doc.Key()]; ok {
		return 0, err
	}
	m.mu.Lock()
	m.indexed = append(m.indexed, doc.Key())
	m.mu.Unlock()
	return 3, nil
}

// mockNotifier records notifications keyed by document.
type mockNotifier struct {
	mu       sync.Mutex
	notified map[string]int
}

func (m *mockNotifier) DocumentIndexed(_ context.Context, documentKey string, chunks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notified == nil {
		m.notified = make(map[string]int)
	}
	m.notified[documentKey] = chunks
}

func arxivDoc(id string) domain.Document {
	return domain.Document{
		Source:   "arxiv",
		SourceID: id,
		ArxivID:  id,
		Title:    "Paper " + id,
		Abstract: "Some abstract.",
	}
}

func s2Doc(id, arxivID, doi string) domain.Document {
	return domain.Document{
		Source:   "semantic_scholar",
		SourceID: id,
		ArxivID:  arxivID,
		DOI:      doi,
		Title:    "Paper " + id,
		Abstract: "Some abstract.",
	}
}

func TestRun_IndexesAcrossSources(t *testing.T) {
	connectors := []connector.Connector{
		&mockConnector{name: "arxiv", docs: []domain.Document{arxivDoc("1"), arxivDoc("2")}},
		&mockConnector{name: "semantic_scholar", docs: []domain.Document{s2Doc("abc", "", "10.1/x")}},
	}
	indexer := &mockIndexer{}
	o := New(connectors, indexer, Config{Workers: 2}, zap.NewNop())

	report, err := o.Run(context.Background(), "attention", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.RunID == "" {
		t.Error("run id missing")
	}
	if report.Found != 3 || report.Indexed != 3 || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(indexer.indexed) != 3 {
		t.Fatalf("indexed %d documents", len(indexer.indexed))
	}
}

func TestRun_DedupesByArxivIDAcrossSources(t *testing.T) {
	// The same paper appears natively on arXiv (with a version suffix)
	// and on Semantic Scholar via its external arXiv id.
	connectors := []connector.Connector{
		&mockConnector{name: "arxiv", docs: []domain.Document{arxivDoc("1706.03762v7")}},
		&mockConnector{name: "semantic_scholar", docs: []domain.Document{s2Doc("abc", "1706.03762", "")}},
	}
	indexer := &mockIndexer{}
	o := New(connectors, indexer, Config{}, zap.NewNop())

	report, err := o.Run(context.Background(), "attention", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", report.Skipped)
	}
	if report.Indexed != 1 {
		t.Fatalf("indexed = %d, want 1", report.Indexed)
	}
}

func TestRun_DedupesByDOI(t *testing.T) {
	connectors := []connector.Connector{
		&mockConnector{name: "a", docs: []domain.Document{s2Doc("one", "", "10.1/SAME")}},
		&mockConnector{name: "b", docs: []domain.Document{s2Doc("two", "", "10.1/same")}},
	}
	indexer := &mockIndexer{}
	o := New(connectors, indexer, Config{}, zap.NewNop())

	report, err := o.Run(context.Background(), "attention", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Skipped != 1 || report.Indexed != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRun_FailedSourceDegradesRun(t *testing.T) {
	connectors := []connector.Connector{
		&mockConnector{name: "arxiv", err: domain.NewExternalSourceError("arxiv", "down", errors.New("503"))},
		&mockConnector{name: "semantic_scholar", docs: []domain.Document{s2Doc("abc", "", "")}},
	}
	indexer := &mockIndexer{}
	o := New(connectors, indexer, Config{}, zap.NewNop())

	report, err := o.Run(context.Background(), "attention", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("one healthy source should carry the run: %v", err)
	}
	if report.Indexed != 1 {
		t.Fatalf("indexed = %d, want 1", report.Indexed)
	}
}

func TestRun_AllSourcesFailedIsAnError(t *testing.T) {
	down := domain.NewExternalSourceError("arxiv", "down", errors.New("503"))
	connectors := []connector.Connector{
		&mockConnector{name: "arxiv", err: down},
		&mockConnector{name: "semantic_scholar", err: down},
	}
	o := New(connectors, &mockIndexer{}, Config{}, zap.NewNop())

	_, err := o.Run(context.Background(), "attention", connector.SearchOptions{})
	if err == nil {
		t.Fatal("expected an error when every source fails")
	}
	var extErr *domain.ExternalSourceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected the source error to surface, got %v", err)
	}
}

func TestRun_DocumentFailureIsIsolated(t *testing.T) {
	docs := []domain.Document{arxivDoc("1"), arxivDoc("2"), arxivDoc("3")}
	connectors := []connector.Connector{&mockConnector{name: "arxiv", docs: docs}}
	indexer := &mockIndexer{
		failOn: map[string]error{"arxiv:2": errors.New("embedding exploded")},
	}
	o := New(connectors, indexer, Config{Workers: 1}, zap.NewNop())

	report, err := o.Run(context.Background(), "attention", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Indexed != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	var failed *DocumentResult
	for i := range report.Results {
		if report.Results[i].Error != "" {
			failed = &report.Results[i]
		}
	}
	if failed == nil || failed.DocumentKey != "arxiv:2" {
		t.Fatalf("failure not attributed: %+v", report.Results)
	}
}

func TestRun_WorkerPoolIsBounded(t *testing.T) {
	docs := make([]domain.Document, 20)
	for i := range docs {
		docs[i] = arxivDoc(fmt.Sprintf("%04d.%05d", i, i))
	}
	connectors := []connector.Connector{&mockConnector{name: "arxiv", docs: docs}}
	indexer := &mockIndexer{}
	o := New(connectors, indexer, Config{Workers: 3}, zap.NewNop())

	if _, err := o.Run(context.Background(), "attention", connector.SearchOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if peak := indexer.peak.Load(); peak > 3 {
		t.Fatalf("peak concurrency %d exceeds worker bound", peak)
	}
}

func TestRun_NotifiesEachIndexedDocument(t *testing.T) {
	connectors := []connector.Connector{
		&mockConnector{name: "arxiv", docs: []domain.Document{arxivDoc("1"), arxivDoc("2"), arxivDoc("3")}},
	}
	indexer := &mockIndexer{
		failOn: map[string]error{"arxiv:2": errors.New("embedding exploded")},
	}
	notifier := &mockNotifier{}
	o := New(connectors, indexer, Config{Workers: 2, Notifier: notifier}, zap.NewNop())

	if _, err := o.Run(context.Background(), "attention", connector.SearchOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Only the successes are announced, each with its chunk count.
	if len(notifier.notified) != 2 {
		t.Fatalf("notified = %v, want 2 documents", notifier.notified)
	}
	if notifier.notified["arxiv:1"] != 3 || notifier.notified["arxiv:3"] != 3 {
		t.Fatalf("notified = %v", notifier.notified)
	}
	if _, ok := notifier.notified["arxiv:2"]; ok {
		t.Fatal("failed document must not be announced")
	}
}

func TestRun_NoNotifierIsFine(t *testing.T) {
	connectors := []connector.Connector{
		&mockConnector{name: "arxiv", docs: []domain.Document{arxivDoc("1")}},
	}
	o := New(connectors, &mockIndexer{}, Config{}, zap.NewNop())

	report, err := o.Run(context.Background(), "attention", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Indexed != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRun_EmptyQueryIsValidationError(t *testing.T) {
	o := New([]connector.Connector{&mockConnector{name: "arxiv"}}, &mockIndexer{}, Config{}, zap.NewNop())

	_, err := o.Run(context.Background(), "", connector.SearchOptions{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
