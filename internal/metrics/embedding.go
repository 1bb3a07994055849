package metrics

import "github.com/prometheus/client_golang/prometheus"

// Embedding and retrieval Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capybara",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capybara",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capybara",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	EmbeddingFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "capybara",
			Name:      "embedding_fallback_total",
			Help:      "Times the hash fallback embedder was used",
		},
	)

	RetrievalStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capybara",
			Name:      "retrieval_stage_total",
			Help:      "Retrieval stage outcomes (stage x result)",
		},
		[]string{"stage", "result"},
	)

	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capybara",
			Name:      "chat_requests_total",
			Help:      "Total number of chat model requests",
		},
		[]string{"model", "status"},
	)

	ChatRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capybara",
			Name:      "chat_request_duration_seconds",
			Help:      "Chat model request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)
)

// RegisterAppMetrics registers embedding, retrieval, and chat metrics with the
// default registry. Called explicitly from main (no init()).
func RegisterAppMetrics() {
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingCacheTotal,
		EmbeddingFallbackTotal,
		RetrievalStageTotal,
		ChatRequestsTotal,
		ChatRequestDuration,
	)
}
