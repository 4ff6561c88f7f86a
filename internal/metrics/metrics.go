// Package metrics provides Prometheus metrics for the executor, the circuit
// breakers and the data-source health checker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var breakerStates = []string{"closed", "open", "half-open"}

var (
	ExecutorTasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_executor_tasks_completed_total",
			Help: "Total number of executor tasks completed successfully",
		},
		[]string{"backend", "label"},
	)
	ExecutorTasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_executor_tasks_failed_total",
			Help: "Total number of executor tasks that failed, were skipped or timed out",
		},
		[]string{"backend", "label"},
	)
	ExecutorTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quant_executor_task_duration_seconds",
			Help:    "Executor task duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"backend", "status"},
	)
	ExecutorMapDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quant_executor_map_duration_seconds",
			Help:    "Wall-clock duration of executor map calls in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"backend", "outcome"},
	)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quant_circuit_breaker_state",
			Help: "Circuit breaker state, 1 for the current state and 0 otherwise",
		},
		[]string{"breaker", "state"},
	)
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)
	BreakerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_circuit_breaker_calls_total",
			Help: "Total number of calls admitted by circuit breakers by outcome",
		},
		[]string{"breaker", "outcome"},
	)
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_circuit_breaker_rejections_total",
			Help: "Total number of calls rejected by circuit breakers",
		},
		[]string{"breaker"},
	)
	ProviderHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quant_provider_health_score",
			Help: "Current health score of a data provider (0-100)",
		},
		[]string{"provider"},
	)
	ProviderAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quant_provider_available",
			Help: "Whether a data provider is currently considered available",
		},
		[]string{"provider"},
	)
	HealthEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_provider_health_events_total",
			Help: "Total number of provider health events by type",
		},
		[]string{"provider", "event_type"},
	)
	GateSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_gate_skipped_total",
			Help: "Total number of calls skipped by the gate by reason",
		},
		[]string{"provider", "reason"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quant_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quant_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskCompleted(backend, label string, duration time.Duration) {
	ExecutorTasksCompleted.WithLabelValues(backend, label).Inc()
	ExecutorTaskDuration.WithLabelValues(backend, "completed").Observe(duration.Seconds())
}

func RecordTaskFailed(backend, label string, duration time.Duration) {
	ExecutorTasksFailed.WithLabelValues(backend, label).Inc()
	ExecutorTaskDuration.WithLabelValues(backend, "failed").Observe(duration.Seconds())
}

// RecordTasksSkipped counts tasks that never ran because the map call aborted.
func RecordTasksSkipped(backend, label string, count int) {
	if count <= 0 {
		return
	}
	ExecutorTasksFailed.WithLabelValues(backend, label).Add(float64(count))
}

func RecordMap(backend, outcome string, duration time.Duration) {
	ExecutorMapDuration.WithLabelValues(backend, outcome).Observe(duration.Seconds())
}

func RecordBreakerTransition(breaker, from, to string) {
	BreakerTransitions.WithLabelValues(breaker, from, to).Inc()
	for _, state := range breakerStates {
		value := 0.0
		if state == to {
			value = 1
		}
		BreakerState.WithLabelValues(breaker, state).Set(value)
	}
}

func RecordBreakerCall(breaker, outcome string) {
	BreakerCalls.WithLabelValues(breaker, outcome).Inc()
}

func RecordBreakerRejection(breaker string) {
	BreakerRejections.WithLabelValues(breaker).Inc()
}

func UpdateProviderHealth(provider string, score float64, available bool) {
	ProviderHealthScore.WithLabelValues(provider).Set(score)
	value := 0.0
	if available {
		value = 1
	}
	ProviderAvailable.WithLabelValues(provider).Set(value)
}

func RecordHealthEvent(provider, eventType string) {
	HealthEvents.WithLabelValues(provider, eventType).Inc()
}

func RecordGateSkipped(provider, reason string) {
	GateSkipped.WithLabelValues(provider, reason).Inc()
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
