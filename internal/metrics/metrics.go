// Package metrics exposes Prometheus collectors for the search pipeline,
// the background jobs and the HTTP surface.
//
// Usage:
//
//	metrics.SourceFailures.WithLabelValues("arxiv").Inc()
//	metrics.ObserveSearch(time.Since(start), personalized)
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchDuration tracks end-to-end search latency.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paperpilot_search_duration_seconds",
			Help:    "Duration of search pipeline runs in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"personalized"},
	)

	// SourceFailures counts retrieval branches that errored, timed out or panicked.
	SourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperpilot_source_failures_total",
			Help: "Total number of failed retrieval branches by source",
		},
		[]string{"source"},
	)

	RerankFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paperpilot_rerank_fallbacks_total",
			Help: "Total number of rankings that fell back to citation order",
		},
	)

	EmbeddingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paperpilot_embedding_failures_total",
			Help: "Total number of embedding calls that returned the zero vector",
		},
	)

	// CacheLookups counts result cache lookups by outcome (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperpilot_cache_lookups_total",
			Help: "Total number of result cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperpilot_jobs_total",
			Help: "Total number of executed jobs by kind and final status",
		},
		[]string{"kind", "status"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paperpilot_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveSearch records one pipeline run.
func ObserveSearch(d time.Duration, personalized bool) {
	SearchDuration.WithLabelValues(strconv.FormatBool(personalized)).Observe(d.Seconds())
}

// RecordJob records a finished job.
func RecordJob(kind, status string) {
	JobsTotal.WithLabelValues(kind, status).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
