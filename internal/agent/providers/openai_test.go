package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/replypilot/replypilot/internal/agent"
	"github.com/replypilot/replypilot/pkg/models"
)

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.config.DefaultModel != defaultOpenAIModel {
		t.Errorf("DefaultModel = %q, want %q", p.config.DefaultModel, defaultOpenAIModel)
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: "user", Content: "hello"},
		{
			Role:    "assistant",
			Content: "let me check",
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "echo", Args: json.RawMessage(`{"text":"hi"}`)},
			},
		},
		{
			Role: "tool",
			ToolResults: []agent.ToolResultMessage{
				{CallID: "call-1", Content: "echo: hi"},
			},
		},
	}

	got := convertOpenAIMessages(messages, "be helpful")

	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}
	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "be helpful" {
		t.Errorf("got[0] = %+v, want system message", got[0])
	}
	if got[1].Role != "user" || got[1].Content != "hello" {
		t.Errorf("got[1] = %+v", got[1])
	}
	if len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].Function.Name != "echo" {
		t.Errorf("got[2] = %+v, want assistant tool call", got[2])
	}
	if got[2].ToolCalls[0].Function.Arguments != `{"text":"hi"}` {
		t.Errorf("tool call arguments = %q", got[2].ToolCalls[0].Function.Arguments)
	}
	if got[3].Role != openai.ChatMessageRoleTool || got[3].ToolCallID != "call-1" {
		t.Errorf("got[3] = %+v, want tool result message", got[3])
	}
}

func TestConvertOpenAIMessagesNoSystem(t *testing.T) {
	got := convertOpenAIMessages([]agent.CompletionMessage{{Role: "user", Content: "hi"}}, "")
	if len(got) != 1 || got[0].Role != "user" {
		t.Errorf("got = %+v, want single user message", got)
	}
}

func TestConvertOpenAITools(t *testing.T) {
	if got := convertOpenAITools(nil); got != nil {
		t.Errorf("nil tools should convert to nil, got %+v", got)
	}

	defs := []agent.ToolDefinition{{
		Name:        "search_orders",
		Description: "Searches orders by customer.",
		Schema:      json.RawMessage(`{"type":"object"}`),
	}}

	got := convertOpenAITools(defs)
	if len(got) != 1 {
		t.Fatalf("got %d tools, want 1", len(got))
	}
	if got[0].Type != openai.ToolTypeFunction {
		t.Errorf("Type = %v", got[0].Type)
	}
	if got[0].Function.Name != "search_orders" || got[0].Function.Description == "" {
		t.Errorf("Function = %+v", got[0].Function)
	}
}

func TestConvertOpenAIResponse(t *testing.T) {
	resp := &openai.ChatCompletionResponse{
		Model: "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "done",
				ToolCalls: []openai.ToolCall{{
					ID:   "call-9",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "echo",
						Arguments: `{"text":"x"}`,
					},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 7},
	}

	got := convertOpenAIResponse(resp)
	if got.Text != "done" || got.Model != "gpt-4o-mini" {
		t.Errorf("completion = %+v", got)
	}
	if got.Usage.InputTokens != 12 || got.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", got.Usage)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].ID != "call-9" {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
}
