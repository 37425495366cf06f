// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and HTTP middleware for monitoring maia runs.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// CapabilityBuckets covers terminology lookups (milliseconds) up to remote
// report-style tools (minutes).
var CapabilityBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 240}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maia_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// ProviderRequestsTotal counts requests sent to the inference service.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_provider_requests_total",
			Help: "Provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records inference service latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maia_provider_latency_seconds",
			Help:    "Provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// BreakerStateChangesTotal counts circuit breaker transitions.
	BreakerStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_breaker_state_changes_total",
			Help: "Circuit breaker state changes",
		},
		[]string{"breaker", "to"},
	)

	// CapabilityInvocationsTotal counts capability invocations by dispatch ID and outcome.
	CapabilityInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_capability_invocations_total",
			Help: "Capability invocations",
		},
		[]string{"capability", "status"},
	)

	// CapabilityDuration records capability execution time.
	CapabilityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maia_capability_duration_seconds",
			Help:    "Capability execution duration",
			Buckets: CapabilityBuckets,
		},
		[]string{"capability"},
	)

	// RetryAttemptsTotal counts attempts made by retry policies, labelled by
	// the failure class ("ok" for a successful attempt).
	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_retry_attempts_total",
			Help: "Retry executor attempts",
		},
		[]string{"policy", "class"},
	)

	// RetryFallbacksTotal counts calls that exhausted their attempts.
	RetryFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_retry_fallbacks_total",
			Help: "Retry executor fallbacks",
		},
		[]string{"policy"},
	)

	// RunsTotal counts orchestration runs by terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_runs_total",
			Help: "Orchestration runs",
		},
		[]string{"status"},
	)

	// BatchItemsTotal counts batch entries by pipeline and recorded outcome.
	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_batch_items_total",
			Help: "Batch items processed",
		},
		[]string{"pipeline", "outcome"},
	)

	// BatchInFlight tracks batch entries currently being processed.
	BatchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "maia_batch_in_flight",
			Help: "Batch entries in flight",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maia_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		BreakerStateChangesTotal,
		CapabilityInvocationsTotal,
		CapabilityDuration,
		RetryAttemptsTotal,
		RetryFallbacksTotal,
		RunsTotal,
		BatchItemsTotal,
		BatchInFlight,
		RateLimitRejectedTotal,
	)
}
