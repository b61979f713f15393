package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	sessionsStarted prometheus.Counter
	sessionsResumed prometheus.Counter
	sessionState    *prometheus.CounterVec
	messageSaves    prometheus.Histogram

	poolInstances  prometheus.Gauge
	instanceClaims *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	toolSearchTotal    *prometheus.CounterVec
	toolSearchDuration prometheus.Histogram

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			sessionsStarted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_started_total",
					Help: "Total sessions created.",
				},
			),
			sessionsResumed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_resumed_total",
					Help: "Total session resumes.",
				},
			),
			sessionState: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_state_transitions_total",
					Help: "Session state transitions by target state.",
				},
				[]string{"state"},
			),
			messageSaves: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_message_save_duration_seconds",
					Help:    "Message persistence duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			poolInstances: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "pool_instances",
					Help: "Current number of registered agent instances.",
				},
			),
			instanceClaims: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "instance_claims_total",
					Help: "Instance claim attempts by outcome.",
				},
				[]string{"outcome"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolSearchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_search_total",
					Help: "Tool search requests by cache result.",
				},
				[]string{"cache"},
			),
			toolSearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "tool_search_duration_seconds",
					Help:    "Tool search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Agent runs by kind and outcome.",
				},
				[]string{"kind", "outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by kind.",
					Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"kind"},
			),
		}

		prometheus.MustRegister(
			m.sessionsStarted,
			m.sessionsResumed,
			m.sessionState,
			m.messageSaves,
			m.poolInstances,
			m.instanceClaims,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolSearchTotal,
			m.toolSearchDuration,
			m.agentRunTotal,
			m.agentRunDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered registers all metrics with the default registry.
// It is safe to call from multiple packages.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func Handler() http.Handler {
	getMetrics()
	return promhttp.Handler()
}

// RecordSessionStarted increments the session creation counter.
func RecordSessionStarted() {
	getMetrics().sessionsStarted.Inc()
}

// RecordSessionResumed increments the session resume counter.
func RecordSessionResumed() {
	getMetrics().sessionsResumed.Inc()
}

// RecordSessionState records a state transition.
func RecordSessionState(state string) {
	getMetrics().sessionState.WithLabelValues(state).Inc()
}

// RecordMessageSave records a message persistence duration.
func RecordMessageSave(d time.Duration) {
	getMetrics().messageSaves.Observe(d.Seconds())
}

// SetPoolInstances sets the registered instance gauge.
func SetPoolInstances(n int) {
	getMetrics().poolInstances.Set(float64(n))
}

// RecordInstanceClaim records a claim attempt outcome ("reused", "created", "busy", "error").
func RecordInstanceClaim(outcome string) {
	getMetrics().instanceClaims.WithLabelValues(outcome).Inc()
}

// RecordToolExecution records one tool execution.
func RecordToolExecution(tool string, d time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordToolSearch records one tool search request.
func RecordToolSearch(d time.Duration, usedCache bool) {
	cache := "miss"
	if usedCache {
		cache = "hit"
	}
	m := getMetrics()
	m.toolSearchTotal.WithLabelValues(cache).Inc()
	m.toolSearchDuration.Observe(d.Seconds())
}

// RecordAgentRun records one complete agent run.
func RecordAgentRun(kind, outcome string, d time.Duration) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(kind, outcome).Inc()
	m.agentRunDuration.WithLabelValues(kind).Observe(d.Seconds())
}
