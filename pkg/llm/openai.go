package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// streamBuffer bounds the token channel so the provider stream and the
// parser can overlap without the reader stalling every Recv.
const streamBuffer = 100

// OpenAIClient is the production Client backed by an OpenAI-compatible API.
// BaseURL overrides make it work against local inference servers too.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string // empty means the provider default
	Model       string
	Temperature float32
	MaxTokens   int // 0 means provider default
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("llm: model is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	slog.Info("LLM client configured", "model", opts.Model, "base_url", cfg.BaseURL)
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	tokens := make(chan string, streamBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages))
		if err != nil {
			errs <- fmt.Errorf("start completion stream: %w", err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("completion stream: %w", err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case tokens <- delta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return tokens, errs
}

// Close implements Client.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) request(messages []Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		var role string
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			role = openai.ChatMessageRoleUser
		}
		msgs[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

var _ Client = (*OpenAIClient)(nil)
