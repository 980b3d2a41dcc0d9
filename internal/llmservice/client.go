package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"robot-rag/internal/config"
	"robot-rag/internal/helper"
	"robot-rag/internal/models"
)

var ErrEmptyResponse = errors.New("chat completion returned no choices")

// Client sends chat-completion requests with fixed generation parameters.
type Client struct {
	llm         llms.Model
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewClient wraps llm. Without options it uses temperature 0.3, 1024 max
// tokens, a 60s timeout and a single attempt.
func NewClient(llm llms.Model, opts ...Option) *Client {
	c := &Client{
		llm:         llm,
		temperature: 0.3,
		maxTokens:   1024,
		timeout:     60 * time.Second,
		maxAttempts: 1,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds the chat model named in cfg.
func NewClientFromConfig(cfg *config.LLMConfig) (*Client, error) {
	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case "openai", "":
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithModel(cfg.Model),
		WithMaxTokens(cfg.MaxTokens),
		WithTimeout(cfg.Timeout()),
		WithRetry(cfg.MaxAttempts, cfg.Backoff()),
	}
	if cfg.Temperature != nil {
		opts = append(opts, WithTemperature(*cfg.Temperature))
	}
	return NewClient(llm, opts...), nil
}

// Complete sends the messages in order and returns the first choice.
func (c *Client) Complete(ctx context.Context, messages []models.Message) (string, error) {
	content := ToMessageContent(messages)
	options := []llms.CallOption{
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
		llms.WithN(1),
	}
	if c.model != "" {
		options = append(options, llms.WithModel(c.model))
	}

	var answer string
	err := helper.RetryWithBackoff(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.llm.GenerateContent(callCtx, content, options...)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		answer = resp.Choices[0].Content
		return nil
	}, c.maxAttempts, c.backoff)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Msg("Error generating content")
		return "", err
	}
	return answer, nil
}

// ToMessageContent maps typed prompt messages to langchaingo message content.
func ToMessageContent(messages []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		out = append(out, llms.TextParts(chatRole(m.Role), m.Content))
	}
	return out
}

func chatRole(r models.Role) schema.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
