// Package llm provides the chat-completion client used for petition review
// and game epilogues.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Config selects the endpoint and budget of a Client.
type Config struct {
	APIKey  string
	BaseURL string // empty means the OpenAI default
	Model   string
	// MaxPerMinute caps calls per minute. Zero means 20.
	MaxPerMinute int
}

// Client wraps an OpenAI-compatible chat completion endpoint.
type Client struct {
	api   openai.Client
	model string

	// Rate limiting: max calls per minute.
	mu        sync.Mutex
	callCount int
	resetAt   time.Time
	maxPerMin int
}

// NewClient creates a new chat client.
// Returns nil if the API key is empty (LLM features disabled).
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(30 * time.Second),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxPerMin := cfg.MaxPerMinute
	if maxPerMin <= 0 {
		maxPerMin = 20
	}
	return &Client{
		api:       openai.NewClient(opts...),
		model:     model,
		maxPerMin: maxPerMin,
	}
}

// Enabled returns true if the client is configured.
func (c *Client) Enabled() bool {
	return c != nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// ErrRateLimited is returned when the per-minute budget is spent.
var ErrRateLimited = errors.New("llm rate limit exceeded")

func (c *Client) take() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.maxPerMin {
		return fmt.Errorf("%w (%d calls/min)", ErrRateLimited, c.maxPerMin)
	}
	c.callCount++
	return nil
}

// Complete sends a system and user prompt and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("LLM client not configured")
	}
	if err := c.take(); err != nil {
		return "", err
	}

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(userPrompt),
		},
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}

	slog.Debug("llm call",
		"model", c.model,
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
	)

	return resp.Choices[0].Message.Content, nil
}
