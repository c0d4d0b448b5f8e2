// Package anthropic implements llm.Provider on the official Anthropic Go SDK.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oceanbase/turnmem-go/pkg/llm"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-3-5-sonnet-20240620"

// Client is an Anthropic LLM client.
// System messages are passed in the request's system field, as the Messages
// API requires. The SDK's automatic retries are disabled: each call sends
// exactly one HTTP request.
type Client struct {
	client *anthropic.Client
	model  string
}

// Config is the configuration for Anthropic LLM.
// APIKey: Anthropic API key (required)
// Model: Model name to use, defaults to DefaultModel
// BaseURL: API base URL, defaults to the SDK's default endpoint
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new Anthropic LLM client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	client := anthropic.NewClient(opts...)
	return &Client{client: &client, model: model}, nil
}

// Generate generates text based on the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history.
//
// The Messages API has no JSON mode; with llm.WithJSONMode an instruction to
// answer with a single JSON object is appended to the system prompt.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	var system []string
	var params []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if options.JSONMode {
		system = append(system, "Respond with a single JSON object and nothing else.")
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(options.MaxTokens),
		Messages:    params,
		Temperature: anthropic.Float(options.Temperature),
	}
	if len(system) > 0 {
		req.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}

	resp, err := c.client.Messages.New(ctx, req)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("llm generation failed: no content returned from Anthropic API")
	}

	return text.String(), nil
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
