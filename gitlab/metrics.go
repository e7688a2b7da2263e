package gitlab

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "gitlaber"

var (
	// RemoteRequestsTotal counts remote API calls by method and status ("error" for transport failures)
	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "remote_requests_total",
			Help:      "Total number of GitLab API requests by method and status.",
		},
		[]string{"method", "status"},
	)

	// RemoteRequestDurationSeconds is remote API latency
	RemoteRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "remote_request_duration_seconds",
			Help:      "GitLab API request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2.5, 8), // 10ms to ~6s
		},
		[]string{"method"},
	)

	// WorkflowStepsTotal counts logged workflow steps by workflow and outcome
	WorkflowStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of provisioning workflow steps by workflow and outcome.",
		},
		[]string{"workflow", "outcome"},
	)
)
