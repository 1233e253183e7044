package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Webhook events by processing stage and outcome
//   - LLM request performance, status, and token consumption
//   - Tool execution patterns and latencies
//   - Retrieval source latency and failure rates
//   - Circuit breaker state transitions
//   - Error rates categorized by type and component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordWebhook("inbound_email", "success", 0.42)
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet", "success", 1.8, 900, 250)
type Metrics struct {
	// WebhookCounter counts webhook events by stage and outcome.
	// Labels: stage, outcome (success|failure)
	WebhookCounter *prometheus.CounterVec

	// WebhookDuration measures webhook processing time in seconds.
	// Labels: stage
	WebhookDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider (anthropic|openai), model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// RetrievalCounter counts retrieval source queries.
	// Labels: source (knowledge_base|historical_case|conversation), status (success|error)
	RetrievalCounter *prometheus.CounterVec

	// RetrievalDuration measures per-source retrieval latency in seconds.
	// Labels: source
	RetrievalDuration *prometheus.HistogramVec

	// CircuitBreakerState reports the current breaker state as a gauge.
	// Labels: name
	// Values: 0 = closed, 1 = open, 2 = half-open
	CircuitBreakerState *prometheus.GaugeVec

	// ErrorCounter tracks errors by type and component.
	// Labels: component (agent|rag|webhook|provider), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a Metrics instance registered with the given
// registerer. Tests use this with an isolated registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replypilot_webhook_events_total",
				Help: "Total webhook events by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replypilot_webhook_duration_seconds",
				Help:    "Webhook processing duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replypilot_llm_request_duration_seconds",
				Help:    "LLM API request duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replypilot_llm_requests_total",
				Help: "Total LLM API requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replypilot_llm_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replypilot_tool_executions_total",
				Help: "Total tool executions by name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replypilot_tool_execution_duration_seconds",
				Help:    "Tool execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		RetrievalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replypilot_retrieval_queries_total",
				Help: "Total retrieval source queries by source and status",
			},
			[]string{"source", "status"},
		),
		RetrievalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replypilot_retrieval_duration_seconds",
				Help:    "Per-source retrieval latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"source"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replypilot_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replypilot_errors_total",
				Help: "Total errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordWebhook records a processed webhook event.
//
// Example:
//
//	start := time.Now()
//	// ... process webhook ...
//	metrics.RecordWebhook("inbound_email", "success", time.Since(start).Seconds())
func (m *Metrics) RecordWebhook(stage, outcome string, durationSeconds float64) {
	m.WebhookCounter.WithLabelValues(stage, outcome).Inc()
	m.WebhookDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordRetrieval records a retrieval source query.
//
// Example:
//
//	metrics.RecordRetrieval("knowledge_base", "success", 0.031)
func (m *Metrics) RecordRetrieval(source, status string, durationSeconds float64) {
	m.RetrievalCounter.WithLabelValues(source, status).Inc()
	m.RetrievalDuration.WithLabelValues(source).Observe(durationSeconds)
}

// SetCircuitBreakerState updates the breaker state gauge.
// Values: 0 = closed, 1 = open, 2 = half-open.
func (m *Metrics) SetCircuitBreakerState(name string, state float64) {
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("provider", "rate_limited")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
