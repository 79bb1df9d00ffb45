package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nestbot_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Interaction metrics
	InteractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_interactions_total",
			Help: "Total number of Slack interactions dispatched",
		},
		[]string{"kind", "key", "status"},
	)

	InteractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nestbot_interaction_duration_seconds",
			Help:    "Duration of interaction handling in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"kind"},
	)

	// Slack API metrics
	SlackAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_slack_api_calls_total",
			Help: "Total number of Slack API calls",
		},
		[]string{"method", "status"},
	)

	SlackAPIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_slack_api_retries_total",
			Help: "Total number of retried Slack API calls",
		},
		[]string{"method", "reason"},
	)

	// Search metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_search_requests_total",
			Help: "Total number of search index queries",
		},
		[]string{"index", "status"},
	)

	// LLM metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_llm_calls_total",
			Help: "Total number of LLM provider calls",
		},
		[]string{"provider", "operation", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nestbot_llm_call_duration_seconds",
			Help:    "Duration of LLM provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nestbot_embedding_cache_hits_total",
			Help: "Total number of query embeddings served from cache",
		},
	)

	// QA metrics
	QAIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nestbot_qa_iterations",
			Help:    "Generator iterations per answered question",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	QAOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_qa_outcomes_total",
			Help: "Total number of QA requests by outcome",
		},
		[]string{"outcome"},
	)

	// Storage metrics
	ChunksStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_chunks_stored_total",
			Help: "Total number of chunks offered to the vector store",
		},
		[]string{"content_type", "status"},
	)

	// Message sync metrics
	MessageSyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_message_sync_runs_total",
			Help: "Total number of message sync passes",
		},
		[]string{"status"},
	)

	MessageSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nestbot_message_sync_duration_seconds",
			Help:    "Message sync pass duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nestbot_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)
)

// Status maps an error to a metric label.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
