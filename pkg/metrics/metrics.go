package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PolicyDecisions counts evaluation outcomes by decision and the rule that fired.
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricgate_policy_decisions_total",
			Help: "Total number of policy decisions",
		},
		[]string{"decision", "reason"},
	)

	// EvaluationLatency measures policy evaluation latency on the hot path.
	EvaluationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabricgate_policy_evaluation_seconds",
			Help:    "Policy evaluation latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CacheLookups counts policy cache lookups by tier (local|redis) and result (hit|miss|error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricgate_policy_cache_lookups_total",
			Help: "Total number of policy cache lookups",
		},
		[]string{"tier", "result"},
	)

	// AuditRecords counts audit pipeline outcomes (written|dropped|failed).
	AuditRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabricgate_policy_audit_records_total",
			Help: "Total number of policy audit records by outcome",
		},
		[]string{"outcome"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fabricgate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
