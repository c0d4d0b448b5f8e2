// Package openai implements llm.Provider for OpenAI and OpenAI-compatible
// endpoints such as DeepSeek and Qwen (DashScope compatible mode).
package openai

import (
	"context"
	"errors"

	"github.com/oceanbase/turnmem-go/pkg/llm"
	openai "github.com/sashabaranov/go-openai"
)

// Base URLs of OpenAI-compatible providers.
const (
	DeepSeekBaseURL = "https://api.deepseek.com"
	QwenBaseURL     = "https://dashscope.aliyuncs.com/compatible-mode/v1"
)

// Client is an OpenAI LLM client.
// It implements the llm.Provider interface on top of the chat completions API.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for OpenAI LLM.
// APIKey: API key (required by hosted providers)
// Model: Model name to use, defaults to "gpt-4o-mini"
// BaseURL: API base URL, defaults to OpenAI official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new OpenAI LLM client.
//
// Args:
//   - cfg: OpenAI configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: OpenAI client instance
//   - error: Returns an error if the configuration is invalid
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("openai: config is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history.
// With llm.WithJSONMode the request sets response_format to json_object.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
	}
	if options.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("llm generation failed: no choices returned from OpenAI API")
	}

	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
