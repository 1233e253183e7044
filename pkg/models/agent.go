package models

import (
	"encoding/json"
	"time"
)

// TaskType categorizes what the user is asking the assistant to do.
// Some task types force escalation to the quality model tier.
type TaskType string

const (
	// TaskAnswer is a direct question about an email.
	TaskAnswer TaskType = "answer"

	// TaskDraftReply asks for a full reply draft.
	TaskDraftReply TaskType = "draft_reply"

	// TaskSummarize asks for a thread summary.
	TaskSummarize TaskType = "summarize"

	// TaskTriage asks for categorization or routing guidance.
	TaskTriage TaskType = "triage"
)

// ModelTier names a quality/cost class of model backend.
type ModelTier string

const (
	// TierFast is the cheap low-latency tier, used by default.
	TierFast ModelTier = "fast"

	// TierQuality is the high-quality tier, used for complex tasks.
	TierQuality ModelTier = "quality"
)

// ConversationTurn is one prior exchange in the requester's conversation.
type ConversationTurn struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the turn's text.
	Content string `json:"content"`
}

// AgentRequest is the caller-owned input to the orchestrator. The core treats
// it as read-only; the caller has already scoped UserID to the email.
type AgentRequest struct {
	// EmailID identifies the email the question is about.
	EmailID string `json:"email_id"`

	// UserID is the requesting inbox owner.
	UserID string `json:"user_id"`

	// Message is the user's question or instruction.
	Message string `json:"message"`

	// TaskType categorizes the request. Empty means TaskAnswer.
	TaskType TaskType `json:"task_type,omitempty"`

	// History contains prior turns in chronological order.
	History []ConversationTurn `json:"history,omitempty"`

	// ForceTier overrides tier selection when non-empty.
	ForceTier ModelTier `json:"force_tier,omitempty"`
}

// ToolCall records one model-initiated tool invocation and its result.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Args holds the raw JSON arguments the model supplied.
	Args json.RawMessage `json:"args,omitempty"`

	// Result is the tool output fed back to the model.
	Result string `json:"result,omitempty"`

	// IsError indicates the tool returned an error result.
	IsError bool `json:"is_error,omitempty"`
}

// TokenUsage counts tokens consumed by a request.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// AgentResponse is the orchestrator's structured answer. It is owned by the
// orchestrator that creates it and handed back to the caller for persistence.
type AgentResponse struct {
	// Text is the assistant's answer.
	Text string `json:"text"`

	// ModelUsed is the concrete model identifier that produced the answer.
	ModelUsed string `json:"model_used"`

	// Tier is the model tier the orchestrator selected.
	Tier ModelTier `json:"tier"`

	// ToolCalls lists tool round trips in execution order.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Usage is the summed token usage across all model turns.
	Usage TokenUsage `json:"usage"`

	// CostEstimate is the estimated cost in USD.
	CostEstimate float64 `json:"cost_estimate"`

	// LatencyMs is the wall-clock duration of the whole call.
	LatencyMs int64 `json:"latency_ms"`

	// RagSources lists the retrieved items that informed the answer.
	RagSources []RetrievedItem `json:"rag_sources,omitempty"`

	// CreatedAt is when the response was assembled.
	CreatedAt time.Time `json:"created_at"`
}
