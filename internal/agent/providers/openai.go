package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/replypilot/replypilot/internal/agent"
	"github.com/replypilot/replypilot/pkg/models"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey authenticates with the OpenAI API. Required.
	APIKey string

	// BaseURL overrides the API endpoint (Azure, proxies, testing).
	BaseURL string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// MaxRetries is the number of retries for retryable failures.
	// Default: 2
	MaxRetries int

	// RetryDelay is the base delay between retries, doubled per attempt.
	// Default: 1s
	RetryDelay time.Duration
}

// OpenAIProvider implements agent.LLMProvider for OpenAI's chat completions
// API.
//
// Safe for concurrent use; each Complete call is independent.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
}

// NewOpenAIProvider creates a provider from the given configuration.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultOpenAIModel
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	} else if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends one chat completion request and returns the full response.
// Retryable failures are retried with exponential backoff up to MaxRetries.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	model := p.getModel(req.Model)

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Tools:    convertOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}

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

		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = classifyOpenAIError(model, err)
			if !lastErr.Reason.IsRetryable() {
				return nil, lastErr
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return nil, &ProviderError{
				Reason:   FailoverUnknown,
				Provider: "openai",
				Model:    model,
				Message:  "response contained no choices",
			}
		}
		return convertOpenAIResponse(&resp), nil
	}

	return nil, lastErr
}

func (p *OpenAIProvider) getModel(model string) string {
	if model != "" {
		return model
	}
	return p.config.DefaultModel
}

func classifyOpenAIError(model string, err error) *ProviderError {
	perr := NewProviderError("openai", model, err)
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		perr.WithStatus(apiErr.HTTPStatusCode)
	}
	return perr
}

// convertOpenAIMessages maps the internal message format to OpenAI chat
// messages. The system prompt becomes a leading system message; tool results
// become separate tool-role messages keyed by call ID.
func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		if len(msg.ToolResults) > 0 {
			for _, toolResult := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    toolResult.Content,
					ToolCallID: toolResult.CallID,
				})
			}
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, call := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Args),
					},
				}
			}
		}
		result = append(result, oaiMsg)
	}

	return result
}

func convertOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		}
	}
	return result
}

func convertOpenAIResponse(resp *openai.ChatCompletionResponse) *agent.Completion {
	choice := resp.Choices[0]

	completion := &agent.Completion{
		Text:  choice.Message.Content,
		Model: resp.Model,
		Usage: models.TokenUsage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}

	for _, call := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: json.RawMessage(call.Function.Arguments),
		})
	}

	return completion
}
