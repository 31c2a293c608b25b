// Package openai adapts OpenAI-compatible chat-completion endpoints (Ollama,
// LM Studio, vLLM) using the official SDK. The adapter is stateless: an SDK
// client is rebuilt per call from the configuration snapshot, since every
// conversation may target a different endpoint, token and timeout. Upstream
// failures are mapped onto the sanitized domain error taxonomy; no retries
// are performed here.
package openai

import (
	"context"
	"errors"
	"net"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davidbz/hearth/internal/domain"
	"github.com/davidbz/hearth/internal/observability"
)

// Client implements domain.CompletionClient.
type Client struct{}

// NewClient creates a new completion client (DI constructor).
func NewClient() *Client {
	return &Client{}
}

// Complete sends one chat-completion request built from the configuration and
// the ordered history (system prompt first, newest user turn last) and
// returns the assistant text.
func (c *Client) Complete(
	ctx context.Context,
	cfg *domain.Config,
	history []domain.Message,
) (string, error) {
	if cfg == nil {
		return "", errors.New("config cannot be nil")
	}

	logger := observability.FromContext(ctx)
	logger.Debug("calling LLM endpoint",
		observability.String("base_url", cfg.BaseURL),
		observability.String("model", cfg.Model),
		observability.Int("history", len(history)))

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIToken),
		option.WithBaseURL(cfg.BaseURL),
		// The SDK retries by default; the relay reports failures instead.
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(cfg.SystemPrompt))
	}
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(cfg.Model),
		Messages: messages,
		// Always sent: zero means deterministic sampling, not "unset".
		Temperature: openai.Float(cfg.Temperature),
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		mapped := mapError(err)
		logger.Error("LLM call failed",
			observability.String("model", cfg.Model),
			observability.Error(err))
		return "", mapped
	}

	if len(resp.Choices) == 0 {
		logger.Error("LLM response missing choices",
			observability.String("model", cfg.Model))
		return "", domain.ErrFormat
	}

	content := resp.Choices[0].Message.Content
	logger.Debug("LLM call succeeded",
		observability.Int("prompt_tokens", int(resp.Usage.PromptTokens)),
		observability.Int("completion_tokens", int(resp.Usage.CompletionTokens)))

	return content, nil
}

// mapError folds SDK and transport failures into the user-safe taxonomy. The
// raw error never crosses this boundary; callers log it separately.
func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return domain.UpstreamError(apiErr.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.ErrTimeout
	}

	return domain.ErrConnection
}
