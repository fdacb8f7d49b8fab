package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the worker's operational counters.
type Metrics struct {
	// LLMRequestCounter counts LLM calls by provider, model, and status.
	// Labels: provider (bedrock|anthropic), model, status (success|throttled|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks billed tokens.
	// Labels: model, type (input|output|cacheRead|cacheWrite)
	LLMTokensUsed *prometheus.CounterVec

	// AccountRotations counts throttle-driven account index advances.
	AccountRotations prometheus.Counter

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// TurnCounter counts completed agent turns by outcome.
	// Labels: outcome (finalized|cancelled|error)
	TurnCounter *prometheus.CounterVec

	// ContextTruncations counts middle-out truncation runs.
	ContextTruncations prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// process startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics against a specific registerer. Tests
// use a private registry to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_llm_tokens_total",
				Help: "Total billed tokens by model and type",
			},
			[]string{"model", "type"},
		),
		AccountRotations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "worker_account_rotations_total",
				Help: "Total throttle-driven account rotations",
			},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_agent_turns_total",
				Help: "Total completed agent turns by outcome",
			},
			[]string{"outcome"},
		),
		ContextTruncations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "worker_context_truncations_total",
				Help: "Total middle-out context truncation runs",
			},
		),
	}
}

// RecordTokens adds one response's usage to the token counters.
func (m *Metrics) RecordTokens(model string, input, output, cacheRead, cacheWrite int64) {
	m.LLMTokensUsed.WithLabelValues(model, "input").Add(float64(input))
	m.LLMTokensUsed.WithLabelValues(model, "output").Add(float64(output))
	m.LLMTokensUsed.WithLabelValues(model, "cacheRead").Add(float64(cacheRead))
	m.LLMTokensUsed.WithLabelValues(model, "cacheWrite").Add(float64(cacheWrite))
}
