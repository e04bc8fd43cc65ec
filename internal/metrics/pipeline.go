package metrics

import "github.com/prometheus/client_golang/prometheus"

// Connector and pipeline Prometheus metrics.
var (
	ConnectorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "connector_requests_total",
			Help:      "Total number of external source requests",
		},
		[]string{"source", "operation", "status"},
	)

	DocumentsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "documents_indexed_total",
			Help:      "Total documents indexed into the vector store",
		},
		[]string{"status"},
	)

	ChunksStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "chunks_stored_total",
			Help:      "Total chunks written to the vector store",
		},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Name:      "retrieval_duration_seconds",
			Help:      "End-to-end retrieval duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"}, // "vector" / "lexical"
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers connector and pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(ConnectorRequestsTotal)
	prometheus.MustRegister(DocumentsIndexedTotal)
	prometheus.MustRegister(ChunksStoredTotal)
	prometheus.MustRegister(RetrievalDuration)
	pipelineMetricsRegistered = true
}
