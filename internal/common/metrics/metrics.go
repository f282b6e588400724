// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InterpretRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_interpret_requests_total",
			Help: "Total interpret requests by resulting state",
		},
		[]string{"state"},
	)

	InterpretDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "assistant_interpret_duration_seconds",
			Help: "Duration of the interpret pipeline in seconds",
		},
		[]string{"origin"},
	)

	ActRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_act_requests_total",
			Help: "Total act requests by outcome",
		},
		[]string{"outcome"},
	)

	ActDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "assistant_act_duration_seconds",
			Help: "Duration of action execution in seconds",
		},
		[]string{"action_type"},
	)

	LLMFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_llm_fallbacks_total",
			Help: "Intent parses that fell back to heuristics",
		},
		[]string{"reason"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_rate_limit_rejections_total",
			Help: "Requests rejected by the token bucket",
		},
		[]string{"resource"},
	)

	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_step_failures_total",
			Help: "Action step failures by port",
		},
		[]string{"port", "error_code"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "assistant_step_duration_seconds",
			Help: "Duration of individual action steps in seconds",
		},
		[]string{"port"},
	)

	TenantViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_tenant_violations_total",
			Help: "Tenant isolation violations detected",
		},
		[]string{"stage"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_embedding_cache_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_active_requests",
			Help: "Requests currently in flight per endpoint",
		},
		[]string{"endpoint"},
	)
)
