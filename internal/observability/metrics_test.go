package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordWebhook(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordWebhook("inbound_email", "success", 0.25)
	m.RecordWebhook("inbound_email", "success", 0.5)
	m.RecordWebhook("reply_drafted", "failure", 1.0)

	expected := `
		# HELP replypilot_webhook_events_total Total webhook events by stage and outcome
		# TYPE replypilot_webhook_events_total counter
		replypilot_webhook_events_total{outcome="failure",stage="reply_drafted"} 1
		replypilot_webhook_events_total{outcome="success",stage="inbound_email"} 2
	`
	if err := testutil.CollectAndCompare(m.WebhookCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected webhook counter values: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordLLMRequest("anthropic", "claude-sonnet", "success", 1.2, 900, 250)
	m.RecordLLMRequest("anthropic", "claude-sonnet", "error", 0.1, 0, 0)

	expected := `
		# HELP replypilot_llm_requests_total Total LLM API requests by provider, model, and status
		# TYPE replypilot_llm_requests_total counter
		replypilot_llm_requests_total{model="claude-sonnet",provider="anthropic",status="error"} 1
		replypilot_llm_requests_total{model="claude-sonnet",provider="anthropic",status="success"} 1
	`
	if err := testutil.CollectAndCompare(m.LLMRequestCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected LLM request counter values: %v", err)
	}

	expectedTokens := `
		# HELP replypilot_llm_tokens_total Total tokens consumed by provider, model, and type
		# TYPE replypilot_llm_tokens_total counter
		replypilot_llm_tokens_total{model="claude-sonnet",provider="anthropic",type="completion"} 250
		replypilot_llm_tokens_total{model="claude-sonnet",provider="anthropic",type="prompt"} 900
	`
	if err := testutil.CollectAndCompare(m.LLMTokensUsed, strings.NewReader(expectedTokens)); err != nil {
		t.Errorf("unexpected token counter values: %v", err)
	}
}

func TestRecordLLMRequestZeroTokens(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordLLMRequest("openai", "gpt-4o-mini", "error", 0.05, 0, 0)

	// Zero-token requests must not create token series.
	if count := testutil.CollectAndCount(m.LLMTokensUsed); count != 0 {
		t.Errorf("expected no token series, got %d", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordToolExecution("search_orders", "success", 0.3)
	m.RecordToolExecution("search_orders", "error", 0.1)
	m.RecordToolExecution("lookup_refund", "success", 0.2)

	if count := testutil.CollectAndCount(m.ToolExecutionCounter); count != 3 {
		t.Errorf("expected 3 tool counter series, got %d", count)
	}
}

func TestRecordRetrieval(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordRetrieval("knowledge_base", "success", 0.02)
	m.RecordRetrieval("historical_case", "error", 0.5)

	expected := `
		# HELP replypilot_retrieval_queries_total Total retrieval source queries by source and status
		# TYPE replypilot_retrieval_queries_total counter
		replypilot_retrieval_queries_total{source="historical_case",status="error"} 1
		replypilot_retrieval_queries_total{source="knowledge_base",status="success"} 1
	`
	if err := testutil.CollectAndCompare(m.RetrievalCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected retrieval counter values: %v", err)
	}
}

func TestSetCircuitBreakerState(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.SetCircuitBreakerState("webhook_processing", 1)

	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("webhook_processing")); got != 1 {
		t.Errorf("breaker state gauge = %v, want 1", got)
	}

	m.SetCircuitBreakerState("webhook_processing", 0)
	if got := testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("webhook_processing")); got != 0 {
		t.Errorf("breaker state gauge = %v, want 0", got)
	}
}

func TestRecordError(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordError("provider", "rate_limited")
	m.RecordError("provider", "rate_limited")
	m.RecordError("rag", "embedding_failed")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("provider", "rate_limited")); got != 2 {
		t.Errorf("error counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("rag", "embedding_failed")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
}
