package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts operator API requests.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// PreflightEvaluationsTotal counts preflight evaluations by outcome.
	PreflightEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preflight_evaluations_total",
			Help: "Total number of preflight evaluations.",
		},
		[]string{"result", "risk"},
	)

	// PreflightCheckFailuresTotal counts failures per admission check.
	PreflightCheckFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preflight_check_failures_total",
			Help: "Total number of admission check failures, by check.",
		},
		[]string{"check"},
	)

	// ExecutionsTotal counts publish executions reaching a terminal state.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executions_total",
			Help: "Total number of publish executions, by channel and terminal status.",
		},
		[]string{"channel", "status"},
	)

	// ExecutionRetriesTotal counts scheduled re-attempts.
	ExecutionRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execution_retries_total",
			Help: "Total number of scheduled publish re-attempts.",
		},
		[]string{"channel"},
	)

	// ForceOverridesTotal counts executions admitted via force override.
	ForceOverridesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "force_overrides_total",
			Help: "Total number of executions admitted via force override.",
		},
		[]string{"channel"},
	)

	// RollbacksTotal counts rollback requests by outcome.
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollbacks_total",
			Help: "Total number of rollback requests, by channel and outcome.",
		},
		[]string{"channel", "status"},
	)
)

// Register exists as an explicit registration point called from main.
// promauto already registers every metric above on package init.
func Register() {}
