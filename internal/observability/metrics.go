package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "scheduler_ticks_total", Help: "Total scheduler ticks run"})
	TickDuration     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_pooling", Name: "scheduler_tick_duration_seconds", Help: "Tick wall time", Buckets: prometheus.DefBuckets})
	RequestsScanned  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "requests_scanned_total", Help: "Pool requests examined across ticks"})
	PoolsFormed      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "pools_formed_total", Help: "Pool groups committed"})
	PoolRidersPooled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "riders_pooled_total", Help: "Ride requests moved to POOLED"})
	FinalizeConflict = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "finalize_conflicts_total", Help: "Finalize attempts lost to concurrent claims"})
	TimeoutsFlagged  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "search_timeouts_total", Help: "Requests flagged for a timeout decision"})
	EvaluatorErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "evaluator_errors_total", Help: "Evaluator faults (not no-match results)"})
	RequestFaults    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_pooling", Name: "request_faults_total", Help: "Per-request processing faults isolated within a tick"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_pooling", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_pooling",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
