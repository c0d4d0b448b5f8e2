package exchange

import (
	"context"
	"errors"

	"github.com/oceanbase/turnmem-go/pkg/llm"
)

// Default generation parameters for LLMGenerator.
const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4096
)

// LLMGenerator implements Generator with one llm.Provider call in JSON mode.
type LLMGenerator struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
	topP        float64
}

// LLMGeneratorOption configures an LLMGenerator.
type LLMGeneratorOption func(*LLMGenerator)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) LLMGeneratorOption {
	return func(g *LLMGenerator) {
		g.temperature = t
	}
}

// WithMaxTokens overrides the response token limit.
func WithMaxTokens(n int) LLMGeneratorOption {
	return func(g *LLMGenerator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithTopP sets nucleus sampling. Unset, the provider default applies.
func WithTopP(p float64) LLMGeneratorOption {
	return func(g *LLMGenerator) {
		g.topP = p
	}
}

// NewLLMGenerator wraps provider as a Generator.
func NewLLMGenerator(provider llm.Provider, opts ...LLMGeneratorOption) *LLMGenerator {
	g := &LLMGenerator{
		provider:    provider,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends the request's messages to the provider.
func (g *LLMGenerator) Generate(ctx context.Context, req *StructuredRequest) (*RawResponse, error) {
	if g.provider == nil {
		return nil, errors.New("exchange: no llm provider configured")
	}

	opts := []llm.GenerateOption{
		llm.WithJSONMode(),
		llm.WithTemperature(g.temperature),
		llm.WithMaxTokens(g.maxTokens),
	}
	if g.topP > 0 {
		opts = append(opts, llm.WithTopP(g.topP))
	}

	text, err := g.provider.GenerateWithMessages(ctx, req.Messages(), opts...)
	if err != nil {
		return nil, err
	}
	return &RawResponse{Text: text}, nil
}

// Close closes the underlying provider.
func (g *LLMGenerator) Close() error {
	if g.provider == nil {
		return nil
	}
	return g.provider.Close()
}
