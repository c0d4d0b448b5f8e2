// Package ollama implements llm.Provider against an Ollama server's /api/chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oceanbase/turnmem-go/pkg/llm"
)

// Client is an Ollama LLM client for local or remote Ollama services.
type Client struct {
	client  *http.Client
	apiKey  string
	model   string
	baseURL string
}

// Config is the configuration for Ollama LLM.
// APIKey: optional, only needed for authenticated remote deployments
// Model: Model name to use, defaults to "llama3.1:8b"
// BaseURL: Ollama service address, defaults to "http://localhost:11434"
// HTTPClient: Custom HTTP client, if nil uses default client (120 seconds timeout)
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// NewClient creates a new Ollama LLM client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.1:8b"
	}

	client := cfg.HTTPClient
	if client == nil {
		// Local models can be slow to load on first use.
		client = &http.Client{
			Timeout: 120 * time.Second,
		}
	}

	return &Client{
		client:  client,
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
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
// Ollama names the token limit num_predict; JSON mode maps to format "json".
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: map[string]any{
			"temperature": options.Temperature,
			"num_predict": options.MaxTokens,
			"top_p":       options.TopP,
		},
	}
	if options.JSONMode {
		reqBody.Format = "json"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if response.Message.Content == "" {
		return "", errors.New("llm generation failed: empty response from Ollama API")
	}

	return response.Message.Content, nil
}

// Close is a no-op; the HTTP client needs no explicit shutdown.
func (c *Client) Close() error {
	return nil
}
