package core

import (
	"log/slog"
	"time"

	"github.com/oceanbase/turnmem-go/pkg/exchange"
	"github.com/oceanbase/turnmem-go/pkg/intelligence"
	"github.com/oceanbase/turnmem-go/pkg/llm"
	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// ClientOption is a function type for configuring a Client.
//
// Options are applied using the functional options pattern and take
// precedence over the corresponding Config sections.
type ClientOption func(*ClientOptions)

// ClientOptions contains the dependencies a Client may be given instead of
// building them from Config.
type ClientOptions struct {
	// Logger receives the client's structured logs.
	Logger *slog.Logger

	// Store replaces the store built from Config.Store. The client does not
	// close a store it was given.
	Store storage.Store

	// Generator replaces the generator built from Config.LLM.
	Generator exchange.Generator

	// Provider is wrapped in an exchange.LLMGenerator when Generator is nil.
	Provider llm.Provider

	// Rules replaces the default classification rules.
	Rules []intelligence.Rule

	// NodeID is the snowflake node used for memory IDs (0-1023).
	NodeID int64

	// ExchangeTimeout overrides Config.Engine.ExchangeTimeoutSeconds.
	ExchangeTimeout time.Duration
}

// WithLogger sets the client logger.
//
// Example:
//
//	client, _ := core.NewClient(cfg, core.WithLogger(slog.Default()))
func WithLogger(logger *slog.Logger) ClientOption {
	return func(opts *ClientOptions) {
		opts.Logger = logger
	}
}

// WithStore uses store instead of the one described by Config.Store.
func WithStore(store storage.Store) ClientOption {
	return func(opts *ClientOptions) {
		opts.Store = store
	}
}

// WithGenerator uses generator for the exchange call instead of an LLM provider.
//
// Example:
//
//	gen := exchange.GeneratorFunc(func(ctx context.Context, req *exchange.StructuredRequest) (*exchange.RawResponse, error) {
//	    return &exchange.RawResponse{Text: `{"reply": "Hi!"}`}, nil
//	})
//	client, _ := core.NewClient(cfg, core.WithGenerator(gen))
func WithGenerator(generator exchange.Generator) ClientOption {
	return func(opts *ClientOptions) {
		opts.Generator = generator
	}
}

// WithLLMProvider uses provider for the exchange call instead of the one
// described by Config.LLM.
func WithLLMProvider(provider llm.Provider) ClientOption {
	return func(opts *ClientOptions) {
		opts.Provider = provider
	}
}

// WithRules replaces the intent classification rules.
func WithRules(rules []intelligence.Rule) ClientOption {
	return func(opts *ClientOptions) {
		opts.Rules = rules
	}
}

// WithNodeID sets the snowflake node ID used for memory IDs.
// Processes sharing a database need distinct node IDs.
func WithNodeID(id int64) ClientOption {
	return func(opts *ClientOptions) {
		opts.NodeID = id
	}
}

// WithExchangeTimeout bounds the exchange call.
func WithExchangeTimeout(d time.Duration) ClientOption {
	return func(opts *ClientOptions) {
		opts.ExchangeTimeout = d
	}
}

func applyClientOptions(opts []ClientOption) *ClientOptions {
	options := &ClientOptions{NodeID: 1}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// TurnOption is a function type for configuring a single ProcessTurn call.
type TurnOption func(*TurnOptions)

// TurnOptions contains per-turn overrides.
type TurnOptions struct {
	// RequestID identifies the turn in logs and in the exchange request.
	// A random UUID is used when empty.
	RequestID string

	// TopK overrides Config.Engine.TopK for this turn.
	TopK int
}

// WithRequestID sets the request ID of the turn.
func WithRequestID(id string) TurnOption {
	return func(opts *TurnOptions) {
		opts.RequestID = id
	}
}

// WithTopK limits the number of memories retrieved for the turn.
//
// Example:
//
//	result, _ := client.ProcessTurn(ctx, "user_001", 3, "What's my name?", core.WithTopK(2))
func WithTopK(k int) TurnOption {
	return func(opts *TurnOptions) {
		opts.TopK = k
	}
}

func applyTurnOptions(opts []TurnOption) *TurnOptions {
	options := &TurnOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
