package agent

import (
	"context"
	"encoding/json"

	"github.com/replypilot/replypilot/pkg/models"
)

// LLMProvider defines the interface for language model backends.
//
// Implementations handle the specifics of communicating with different LLM
// APIs (Anthropic, OpenAI, etc.) while presenting a unified completion
// interface to the orchestrator.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete() simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns the model's full response.
	// Timeouts and cancellation propagate through ctx.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Name returns the provider name.
	Name() string
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model specifies which model to use. If empty, the provider's default
	// model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	System string `json:"system,omitempty"`

	// Messages contains the conversation in chronological order.
	// Must include at least one message.
	Messages []CompletionMessage `json:"messages"`

	// Tools declares tools the model may request to execute.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the generated response length.
	// If 0, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness. Nil uses the provider default.
	Temperature *float32 `json:"temperature,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool"
type CompletionMessage struct {
	// Role indicates who sent the message.
	Role string `json:"role"`

	// Content is the text content (may be empty for tool-only messages).
	Content string `json:"content,omitempty"`

	// ToolCalls contains tool execution requests made by the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains results being returned to the model.
	ToolResults []ToolResultMessage `json:"tool_results,omitempty"`
}

// ToolResultMessage carries one tool result back to the model.
type ToolResultMessage struct {
	// CallID matches the provider-assigned tool call identifier.
	CallID string `json:"call_id"`

	// Content is the tool output.
	Content string `json:"content"`

	// IsError marks the result as an error the model should handle.
	IsError bool `json:"is_error,omitempty"`
}

// Completion is a provider's full response to one request.
type Completion struct {
	// Text is the generated answer text.
	Text string `json:"text"`

	// ToolCalls are tool invocations the model requested, in order.
	// Empty when the model answered directly.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// Usage counts tokens consumed by this turn.
	Usage models.TokenUsage `json:"usage"`

	// Model is the concrete model that served the request.
	Model string `json:"model"`
}

// ToolDefinition declares one tool to the model.
type ToolDefinition struct {
	// Name is the tool name for function calling.
	Name string `json:"name"`

	// Description helps the model decide when to use the tool.
	Description string `json:"description"`

	// Schema is the JSON Schema of the tool's parameters.
	Schema json.RawMessage `json:"schema"`
}

// Tool defines the interface for executable agent tools.
type Tool interface {
	// Name returns the tool name for function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of the tool.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
//
// Errors are communicated via IsError=true so the model can handle failures
// gracefully instead of aborting the request.
type ToolResult struct {
	// Content is the tool's output.
	Content string `json:"content"`

	// IsError indicates this result represents an error condition.
	IsError bool `json:"is_error,omitempty"`
}
