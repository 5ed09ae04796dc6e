// Package openai adapts the OpenAI chat completion API to the analyzer
// contract used by the extractor.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gitlab.com/yelinaung/finmail/internal/logger"
	"gitlab.com/yelinaung/finmail/internal/models"
)

// DefaultModel is used when no model is configured.
const DefaultModel = goopenai.GPT4oMini

const systemPrompt = "You are a JSON API that extracts financial facts from e-mails. " +
	"Respond with a single JSON object and nothing else."

// ChatCompleter is the subset of the go-openai client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Client sends analysis prompts to an OpenAI-compatible endpoint.
type Client struct {
	api         ChatCompleter
	model       string
	maxTokens   int
	temperature float32
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	model   string
	baseURL string
}

// WithModel overrides DefaultModel. Empty names are ignored.
func WithModel(model string) Option {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) { o.baseURL = strings.TrimRight(baseURL, "/") }
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai API key is required")
	}

	o := clientOptions{model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}

	return NewClientWithCompleter(goopenai.NewClientWithConfig(cfg), WithModel(o.model)), nil
}

// NewClientWithCompleter creates a Client around a custom ChatCompleter.
func NewClientWithCompleter(api ChatCompleter, opts ...Option) *Client {
	o := clientOptions{model: DefaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		api:         api,
		model:       o.model,
		maxTokens:   1024,
		temperature: 0.1,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Analyze sends prompt and returns the assistant's raw answer.
func (c *Client) Analyze(ctx context.Context, prompt string) (string, error) {
	if c.api == nil {
		return "", fmt.Errorf("%w: openai client not initialized", models.ErrCollaboratorUnavailable)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		logger.Log.Warn().Err(err).Str("model", c.model).Msg("OpenAI API call failed")
		return "", fmt.Errorf("%w: openai API call failed: %w", models.ErrCollaboratorUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in OpenAI response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty OpenAI response")
	}
	return text, nil
}
