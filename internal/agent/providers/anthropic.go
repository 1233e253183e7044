// Package providers implements LLM provider integrations for the agent
// orchestrator.
//
// Each provider adapts one vendor SDK to the agent.LLMProvider interface:
// message and tool format conversion, retry with backoff on transient
// failures, and structured error classification.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/replypilot/replypilot/internal/agent"
	"github.com/replypilot/replypilot/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	// APIKey authenticates with the Anthropic API. Required.
	APIKey string

	// BaseURL overrides the API endpoint (proxies, testing).
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// MaxTokens is the fallback response limit when the request has none.
	// Default: 1024
	MaxTokens int

	// MaxRetries is the number of retries for retryable failures.
	// Default: 2
	MaxRetries int

	// RetryDelay is the base delay between retries, doubled per attempt.
	// Default: 1s
	RetryDelay time.Duration
}

// AnthropicProvider implements agent.LLMProvider for Anthropic's Messages API.
//
// Safe for concurrent use; each Complete call is independent.
type AnthropicProvider struct {
	client anthropic.Client
	config AnthropicConfig
}

// NewAnthropicProvider creates a provider from the given configuration.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	} else if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		config: config,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete sends one completion request and returns the full response.
// Retryable failures (rate limits, timeouts, 5xx) are retried with
// exponential backoff up to MaxRetries.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	model := p.getModel(req.Model)
	delay := p.config.RetryDelay

	var lastErr *ProviderError
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = NewProviderError("anthropic", model, err)
			if !lastErr.Reason.IsRetryable() {
				return nil, lastErr
			}
			continue
		}
		return convertAnthropicResponse(msg), nil
	}

	return nil, lastErr
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	return params, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model != "" {
		return model
	}
	return p.config.DefaultModel
}

// convertAnthropicMessages maps the internal message format to Anthropic
// content blocks. Tool results ride in user-role messages; the "tool" role
// does not exist in the Messages API.
func convertAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.CallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(toolCall.Args, &input); err != nil {
				return nil, &ProviderError{
					Reason:   FailoverInvalidRequest,
					Provider: "anthropic",
					Message:  "invalid tool call arguments for " + toolCall.Name,
					Cause:    err,
				}
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, &ProviderError{
				Reason:   FailoverInvalidRequest,
				Provider: "anthropic",
				Message:  "invalid tool schema for " + tool.Name,
				Cause:    err,
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}

	return result, nil
}

func convertAnthropicResponse(msg *anthropic.Message) *agent.Completion {
	completion := &agent.Completion{
		Model: string(msg.Model),
		Usage: models.TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:   b.ID,
				Name: b.Name,
				Args: json.RawMessage(b.Input),
			})
		}
	}
	completion.Text = text.String()

	return completion
}
