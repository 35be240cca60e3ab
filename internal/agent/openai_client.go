package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/domain"
)

var errEmptyCompletion = errors.New("completion returned no choices")

// OpenAIClient generates replies and structured records through an
// OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient creates a client for cfg.BaseURL.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled by the resilient wrapper.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger.Info("OpenAI-compatible generator configured",
		"base_url", cfg.BaseURL,
		"reply_model", cfg.ReplyModel,
		"extraction_model", cfg.ExtractionModel)

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Generate sends instructions as the system message followed by history and
// decodes the reply envelope.
func (c *OpenAIClient) Generate(ctx context.Context, instructions string, history []domain.Message) (coach.Reply, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(instructions))
	for _, msg := range history {
		if msg.Role == domain.RoleUser {
			messages = append(messages, openai.UserMessage(msg.Content))
		} else {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	content, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.ReplyModel),
		Messages:    messages,
		Temperature: openai.Float(c.cfg.ReplyTemperature),
		MaxTokens:   openai.Int(c.cfg.ReplyMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return coach.Reply{}, err
	}

	reply, ok := ParseReply(content)
	if !ok {
		c.logger.Warn("Reply was not a JSON envelope; checkpoint not advanced", "length", len(content))
	}
	return reply, nil
}

// GenerateStructured asks for a JSON object matching schema.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, instructions string, schema []byte) (json.RawMessage, error) {
	system := "You extract structured data from coaching conversations. " +
		"Respond with a single JSON object that validates against this JSON Schema:\n" + string(schema)

	content, err := c.complete(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.cfg.ExtractionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(instructions),
		},
		Temperature: openai.Float(c.cfg.ExtractionTemperature),
		MaxTokens:   openai.Int(c.cfg.ExtractionMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, err
	}
	return ParseStructured(content)
}

// Close is a no-op; the HTTP client holds no resources that need release.
func (c *OpenAIClient) Close() {}

func (c *OpenAIClient) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", classifyOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIError marks client errors other than rate limiting as
// permanent so they are not retried.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code >= 400 && code < 500 && code != 408 && code != 429 {
			return &PermanentError{Err: err}
		}
	}
	return err
}
