package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubscriptionsActive is the number of live SQL subscriptions.
	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesql_subscriptions_active",
		Help: "Number of active live query subscriptions",
	})
	// WatchesActive is the number of native watches held open.
	WatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livesql_watches_active",
		Help: "Number of native store watches currently open",
	})
	// ResultSets counts result sets delivered to subscribers.
	ResultSets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livesql_result_sets_total",
		Help: "Total number of result sets delivered",
	})
	// SourceErrors counts native watch failures by collection.
	SourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesql_source_errors_total",
		Help: "Total number of native watch failures",
	}, []string{"collection"})
	// PlanCache counts plan cache lookups by outcome (hit|miss).
	PlanCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesql_plan_cache_total",
		Help: "Plan cache lookups",
	}, []string{"outcome"})
	// QueriesPerPlan is the number of native queries a statement expands to.
	QueriesPerPlan = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livesql_native_queries_per_plan",
		Help:    "Native queries generated per SQL statement",
		Buckets: []float64{1, 2, 4, 8, 16, 30},
	})
	// ProcessDuration is the latency of one post-processing pass.
	ProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livesql_process_duration_seconds",
		Help:    "Time spent rebuilding a result set from snapshots",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	// RequestTotal counts HTTP requests.
	RequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesql_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "status"})
	// ChangeEvents counts change notifications received from a feed.
	ChangeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livesql_change_events_total",
		Help: "Change notifications received from the store feed",
	}, []string{"feed"})
)
