package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/ingest"
	"github.com/research-os/ragd/internal/pipeline"
)

// mockRetriever records calls and serves canned results.
type mockRetriever struct {
	rc        domain.RetrievedContext
	queryErr  error
	lastText  string
	lastLimit int
	lastMin   float64

	deleted   []string
	deleteN   int
	deleteErr error

	stats pipeline.Stats
}

func (m *mockRetriever) Query(_ context.Context, text string, limit int, minScore float64) (domain.RetrievedContext, error) {
	m.lastText = text
	m.lastLimit = limit
	m.lastMin = minScore
	if m.queryErr != nil {
		return domain.RetrievedContext{}, m.queryErr
	}
	return m.rc, nil
}

func (m *mockRetriever) DeleteDocument(_ context.Context, key string) (int, error) {
	m.deleted = append(m.deleted, key)
	return m.deleteN, m.deleteErr
}

func (m *mockRetriever) Stats(_ context.Context) pipeline.Stats {
	return m.stats
}

// mockIngestor serves a canned report.
type mockIngestor struct {
	report   ingest.Report
	err      error
	lastOpts connector.SearchOptions
	lastQ    string
}

func (m *mockIngestor) Run(_ context.Context, query string, opts connector.SearchOptions) (ingest.Report, error) {
	m.lastQ = query
	m.lastOpts = opts
	if m.err != nil {
		return ingest.Report{}, m.err
	}
	return m.report, nil
}

type mockCheck bool

func (m mockCheck) HealthCheck(_ context.Context) bool { return bool(m) }

func newTestServer(t *testing.T, retrieval *mockRetriever, ingestor *mockIngestor, checks map[string]HealthChecker) *httptest.Server {
	t.Helper()
	s := NewServer(retrieval, ingestor, checks, Limits{
		DefaultLimit:    5,
		MaxLimit:        50,
		DefaultMinScore: 0,
		MaxResults:      20,
	}, zap.NewNop())

	r := chirouter.NewRouter()
	s.Routes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, http.NoBody)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
	}
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
