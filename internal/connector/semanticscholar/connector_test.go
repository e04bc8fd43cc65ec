package semanticscholar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/connector"
	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/retry"
)

const bertPaper = `{
	"paperId": "df2b0e26d0599ce3e70df8a9da02e51594e0e992",
	"title": "BERT: Pre-training of Deep Bidirectional Transformers for Language Understanding",
	"abstract": "We introduce a new language representation model called BERT.",
	"year": 2019,
	"venue": "NAACL",
	"authors": [
		{"authorId": "39172707", "name": "Jacob Devlin"},
		{"authorId": "1726906", "name": "Ming-Wei Chang"}
	],
	"citationCount": 80000,
	"fieldsOfStudy": ["Computer Science"],
	"publicationTypes": ["JournalArticle"],
	"publicationDate": "2019-06-02",
	"journal": {"name": "NAACL Proceedings"},
	"externalIds": {"DOI": "10.18653/v1/N19-1423", "ArXiv": "1810.04805"},
	"url": "https://www.semanticscholar.org/paper/df2b0e26",
	"openAccessPdf": {"url": "https://aclanthology.org/N19-1423.pdf", "status": "HYBRID"}
}`

func fastRetry() retry.Executor {
	return retry.Executor{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func testConnector(serverURL, apiKey string) *Connector {
	return New(Config{
		BaseURL: serverURL,
		APIKey:  apiKey,
		Timeout: time.Second,
		Retry:   fastRetry(),
		Logger:  zap.NewNop(),
	})
}

func TestSearch_NormalizesPapers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paper/search" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("query") != "bert language model" {
			t.Errorf("query = %q", q.Get("query"))
		}
		if q.Get("limit") != "10" {
			t.Errorf("limit = %q", q.Get("limit"))
		}
		if !strings.Contains(q.Get("fields"), "externalIds") {
			t.Errorf("fields projection missing externalIds: %q", q.Get("fields"))
		}
		if q.Get("year") != "2018-2020" {
			t.Errorf("year = %q", q.Get("year"))
		}
		if q.Get("fieldsOfStudy") != "Computer Science" {
			t.Errorf("fieldsOfStudy = %q", q.Get("fieldsOfStudy"))
		}
		if q.Get("minCitationCount") != "50" {
			t.Errorf("minCitationCount = %q", q.Get("minCitationCount"))
		}
		_, _ = w.Write([]byte(`{"total": 1, "offset": 0, "data": [` + bertPaper + `]}`))
	}))
	defer server.Close()

	docs, err := testConnector(server.URL, "").Search(context.Background(), "bert language model", connector.SearchOptions{
		Year:          "2018-2020",
		FieldsOfStudy: []string{"Computer Science"},
		MinCitations:  50,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	doc := docs[0]
	if doc.Source != "semantic_scholar" {
		t.Errorf("source = %q", doc.Source)
	}
	if doc.SourceID != "df2b0e26d0599ce3e70df8a9da02e51594e0e992" {
		t.Errorf("source id = %q", doc.SourceID)
	}
	if doc.DOI != "10.18653/v1/N19-1423" {
		t.Errorf("doi = %q", doc.DOI)
	}
	if doc.ArxivID != "1810.04805" {
		t.Errorf("arxiv id = %q", doc.ArxivID)
	}
	if doc.Year != 2019 || doc.Month != 6 {
		t.Errorf("year/month = %d/%d", doc.Year, doc.Month)
	}
	if doc.Citations != 80000 {
		t.Errorf("citations = %d", doc.Citations)
	}
	if doc.Venue != "NAACL" {
		t.Errorf("venue = %q", doc.Venue)
	}
	if doc.PDFURL != "https://aclanthology.org/N19-1423.pdf" {
		t.Errorf("pdf url = %q", doc.PDFURL)
	}
	if len(doc.Authors) != 2 || doc.Authors[1] != "Ming-Wei Chang" {
		t.Errorf("authors = %v", doc.Authors)
	}
	if doc.Metadata["fields_of_study"] != "Computer Science" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
}

func TestSearch_APIKeyHeader(t *testing.T) {
	var gotKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"total": 0, "offset": 0, "data": []}`))
	}))
	defer server.Close()

	_, err := testConnector(server.URL, "sk-test").Search(context.Background(), "anything", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotKey.Load() != "sk-test" {
		t.Fatalf("x-api-key = %v", gotKey.Load())
	}
}

func TestSearch_RateLimitedThenRecovered(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"total": 0, "offset": 0, "data": []}`))
	}))
	defer server.Close()

	_, err := testConnector(server.URL, "sk-test").Search(context.Background(), "anything", connector.SearchOptions{})
	if err != nil {
		t.Fatalf("429 should be retried: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestFetchByID_ResolvesExternalIdentifiers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paper/arXiv:1810.04805" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(bertPaper))
	}))
	defer server.Close()

	doc, err := testConnector(server.URL, "sk-test").FetchByID(context.Background(), "arXiv:1810.04805")
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if doc.Title == "" || doc.ArxivID != "1810.04805" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestFetchByID_MissingPaperIsNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := testConnector(server.URL, "sk-test").FetchByID(context.Background(), "deadbeef")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("not-found must not retry, got %d attempts", got)
	}
}

func TestRecommendations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/recommendations") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q", got)
		}
		_, _ = w.Write([]byte(`{"recommendedPapers": [` + bertPaper + `]}`))
	}))
	defer server.Close()

	docs, err := testConnector(server.URL, "sk-test").Recommendations(context.Background(), "df2b0e26", 5)
	if err != nil {
		t.Fatalf("Recommendations: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 recommendation, got %d", len(docs))
	}
}

func TestSearch_PersistentFailureWrapsSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := testConnector(server.URL, "sk-test").Search(context.Background(), "anything", connector.SearchOptions{})

	var extErr *domain.ExternalSourceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalSourceError, got %v", err)
	}
	if extErr.Source != "semantic_scholar" {
		t.Fatalf("source = %q", extErr.Source)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "1" {
			t.Errorf("health probe limit = %q", r.URL.Query().Get("limit"))
		}
		_, _ = w.Write([]byte(`{"total": 0, "offset": 0, "data": []}`))
	}))
	defer server.Close()

	if !testConnector(server.URL, "").HealthCheck(context.Background()) {
		t.Error("healthy server should report true")
	}
}
