// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcomes per observation.
const (
	OutcomeRecorded  = "recorded"
	OutcomeDuplicate = "duplicate"
	OutcomeMalformed = "malformed"
	OutcomeSkipped   = "skipped"
)

var (
	// Ingestion
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_ingest_cycles_total",
			Help: "Ingestion cycles by result",
		},
		[]string{"result"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_ingest_cycle_duration_seconds",
			Help:    "Wall time of one ingestion cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_ingest_observations_total",
			Help: "Observations processed by outcome",
		},
		[]string{"outcome"},
	)

	// Identity
	LineageProposals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_lineage_proposals_total",
			Help: "Lineage edges created by match type and status",
		},
		[]string{"match_type", "status"},
	)

	// Activity patterns
	PatternRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_pattern_recomputes_total",
			Help: "Activity pattern recomputations by result",
		},
		[]string{"result"},
	)

	// HTTP API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimitRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_rate_limit_rejects_total",
			Help: "Requests rejected by the per-IP rate limiter",
		},
	)
)
