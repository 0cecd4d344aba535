package services

import "github.com/prometheus/client_golang/prometheus"

var (
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdfchat_query_duration_seconds",
			Help:    "End-to-end duration of the question answering pipeline.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	retrievalFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfchat_retrieval_failures_total",
			Help: "Retrievals that failed and degraded to no context.",
		},
		[]string{"reason"},
	)

	llmDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdfchat_llm_duration_seconds",
			Help:    "Duration of chat completion calls.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	// llmFailures counts completions replaced by the apology, by reason
	// (timeout|error|empty).
	llmFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdfchat_llm_failures_total",
			Help: "Chat completions that failed or came back empty.",
		},
		[]string{"reason"},
	)

	documentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pdfchat_documents_ingested_total",
			Help: "Documents successfully extracted, indexed, and stored.",
		},
	)
)

func init() {
	prometheus.MustRegister(queryDuration, retrievalFallbacks, llmDuration, llmFailures, documentsIngested)
}
