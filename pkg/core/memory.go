package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/oceanbase/turnmem-go/pkg/exchange"
	"github.com/oceanbase/turnmem-go/pkg/intelligence"
	"github.com/oceanbase/turnmem-go/pkg/llm"
	anthropicLLM "github.com/oceanbase/turnmem-go/pkg/llm/anthropic"
	ollamaLLM "github.com/oceanbase/turnmem-go/pkg/llm/ollama"
	openaiLLM "github.com/oceanbase/turnmem-go/pkg/llm/openai"
	"github.com/oceanbase/turnmem-go/pkg/storage"
	"github.com/oceanbase/turnmem-go/pkg/storage/inmemory"
	"github.com/oceanbase/turnmem-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/turnmem-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/turnmem-go/pkg/storage/sqlite"
)

// Client is the turnmem client.
//
// Each call to ProcessTurn runs one conversational turn for a user:
// classify the input, retrieve the memories relevant to it, make a single
// exchange call that returns the reply together with extracted memories and
// usage judgments, and commit those writes atomically.
//
// The client is safe for concurrent use. Turns of the same user are
// serialized; turns of different users run in parallel.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	result, err := client.ProcessTurn(ctx, "user_001", 1, "My name is Alice")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Reply)
type Client struct {
	// config contains the client configuration.
	config *Config

	// store persists memories and usage events.
	store storage.Store

	// ownsStore is true when the client built the store and must close it.
	ownsStore bool

	// generator performs the exchange call.
	generator exchange.Generator

	classifier *intelligence.IntentClassifier
	relevance  *intelligence.RelevanceEngine
	adapter    *exchange.Adapter

	// snowflakeNode generates unique IDs for memories.
	snowflakeNode *snowflake.Node

	logger *slog.Logger
	locks  *userLocks

	exchangeTimeout     time.Duration
	reinforcementFactor float64

	apiCalls       atomic.Int64
	turnsProcessed atomic.Int64
	turnsFailed    atomic.Int64

	closed atomic.Bool
}

// NewClient creates a new turnmem client.
//
// The client is initialized with:
//   - Store (in-memory, SQLite, PostgreSQL or OceanBase) unless WithStore is given
//   - Generator backed by the configured LLM provider unless WithGenerator is given
//   - Intent classifier, relevance engine and exchange adapter from Config.Engine
//
// A nil cfg uses DefaultConfig.
//
// Example:
//
//	cfg := core.DefaultConfig()
//	cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
//	client, err := core.NewClient(cfg, core.WithLogger(slog.Default()))
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := applyClientOptions(opts)

	logger := options.Logger
	if logger == nil {
		logger = NewLogger(cfg.Log)
	}

	node, err := snowflake.NewNode(options.NodeID)
	if err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	generator := options.Generator
	if generator == nil {
		provider := options.Provider
		if provider == nil {
			if cfg.LLM.Provider == "" {
				return nil, NewMemoryError("NewClient", fmt.Errorf("%w: no generator or llm provider configured", ErrInvalidConfig))
			}
			provider, err = initLLM(cfg.LLM)
			if err != nil {
				return nil, err
			}
		}
		var genOpts []exchange.LLMGeneratorOption
		if cfg.LLM.Temperature > 0 {
			genOpts = append(genOpts, exchange.WithTemperature(cfg.LLM.Temperature))
		}
		if cfg.LLM.MaxTokens > 0 {
			genOpts = append(genOpts, exchange.WithMaxTokens(cfg.LLM.MaxTokens))
		}
		if cfg.LLM.TopP > 0 {
			genOpts = append(genOpts, exchange.WithTopP(cfg.LLM.TopP))
		}
		generator = exchange.NewLLMGenerator(provider, genOpts...)
	}

	rules := options.Rules
	if rules == nil {
		rules = intelligence.DefaultRules()
	}
	classifier, err := intelligence.NewIntentClassifierWithRules(rules, cfg.Engine.ClassifierCacheSize)
	if err != nil {
		_ = closeGenerator(generator)
		return nil, NewMemoryError("NewClient", err)
	}

	store := options.Store
	ownsStore := false
	if store == nil {
		store, err = initStorage(cfg.Store)
		if err != nil {
			classifier.Close()
			_ = closeGenerator(generator)
			return nil, err
		}
		ownsStore = true
	}

	timeout := options.ExchangeTimeout
	if timeout <= 0 {
		timeout = cfg.Engine.ExchangeTimeout()
	}
	if timeout <= 0 {
		timeout = DefaultExchangeTimeoutSeconds * time.Second
	}

	decay := intelligence.NewDecayModel(cfg.Engine.Tau, cfg.Engine.Cutoff)
	relevance := intelligence.NewRelevanceEngine(store, decay, intelligence.RelevanceConfig{
		TopK:            cfg.Engine.TopK,
		CrossTypeRecall: cfg.Engine.CrossTypeRecall,
		CrossTypeWeight: cfg.Engine.CrossTypeWeight,
	})
	adapter := exchange.NewAdapter(exchange.AdapterConfig{
		DefaultConfidence: cfg.Engine.DefaultConfidence,
		MinConfidence:     cfg.Engine.MinConfidence,
	})

	return &Client{
		config:              cfg,
		store:               store,
		ownsStore:           ownsStore,
		generator:           generator,
		classifier:          classifier,
		relevance:           relevance,
		adapter:             adapter,
		snowflakeNode:       node,
		logger:              logger,
		locks:               newUserLocks(),
		exchangeTimeout:     timeout,
		reinforcementFactor: cfg.Engine.ReinforcementFactor,
	}, nil
}

// GetAll returns every memory of userID ordered by ID.
func (c *Client) GetAll(ctx context.Context, userID string) ([]*Memory, error) {
	if userID == "" {
		return nil, NewMemoryError("GetAll", ErrInvalidInput)
	}
	memories, err := c.store.GetMemories(ctx, userID, nil)
	if err != nil {
		return nil, NewMemoryError("GetAll", errors.Join(ErrStorageRead, err))
	}
	return fromStorageMemories(memories), nil
}

// DeleteAll removes every memory and usage event of userID.
// It waits for the user's in-flight turn to finish.
func (c *Client) DeleteAll(ctx context.Context, userID string) error {
	if userID == "" {
		return NewMemoryError("DeleteAll", ErrInvalidInput)
	}
	release, err := c.locks.acquire(ctx, userID)
	if err != nil {
		return NewMemoryError("DeleteAll", err)
	}
	defer release()

	return NewMemoryError("DeleteAll", c.store.DeleteAll(ctx, userID))
}

// Stats returns the client's lifetime counters.
func (c *Client) Stats() Stats {
	return Stats{
		APICalls:       c.apiCalls.Load(),
		TurnsProcessed: c.turnsProcessed.Load(),
		TurnsFailed:    c.turnsFailed.Load(),
	}
}

// Close closes the client and releases resources.
//
// It closes the generator if it implements io.Closer and the store if the
// client created it. Calling Close more than once is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.classifier.Close()

	var errs []error
	if err := closeGenerator(c.generator); err != nil {
		errs = append(errs, err)
	}
	if c.ownsStore {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return NewMemoryError("Close", errors.Join(errs...))
}

func closeGenerator(g exchange.Generator) error {
	if closer, ok := g.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// initStorage initializes the memory store.
func initStorage(cfg StoreConfig) (storage.Store, error) {
	m := cfg.Config
	if m == nil {
		m = map[string]interface{}{}
	}

	var (
		store storage.Store
		err   error
	)
	switch cfg.Provider {
	case "inmemory":
		return inmemory.NewStore(), nil
	case "oceanbase":
		store, err = oceanbase.NewClient(&oceanbase.Config{
			Host:           configString(m, "host", "127.0.0.1"),
			Port:           configInt(m, "port", 2881),
			User:           configString(m, "user", "root@sys"),
			Password:       configString(m, "password", ""),
			DBName:         configString(m, "db_name", "turnmem"),
			CollectionName: configString(m, "collection_name", "memories"),
		})
	case "sqlite":
		store, err = sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:         configString(m, "db_path", "./turnmem.db"),
			CollectionName: configString(m, "collection_name", "memories"),
		})
	case "postgres":
		store, err = postgresStore.NewClient(&postgresStore.Config{
			Host:           configString(m, "host", "localhost"),
			Port:           configInt(m, "port", 5432),
			User:           configString(m, "user", "postgres"),
			Password:       configString(m, "password", ""),
			DBName:         configString(m, "db_name", "turnmem"),
			CollectionName: configString(m, "collection_name", "memories"),
			SSLMode:        configString(m, "ssl_mode", "disable"),
		})
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initStorage", err)
	}
	return store, nil
}

// initLLM initializes the LLM provider. DeepSeek and Qwen are served by the
// OpenAI client through their compatible endpoints.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	var (
		provider llm.Provider
		err      error
	)
	switch cfg.Provider {
	case "openai":
		provider, err = openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "deepseek":
		provider, err = openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   orDefault(cfg.Model, "deepseek-chat"),
			BaseURL: orDefault(cfg.BaseURL, openaiLLM.DeepSeekBaseURL),
		})
	case "qwen":
		provider, err = openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   orDefault(cfg.Model, "qwen-plus"),
			BaseURL: orDefault(cfg.BaseURL, openaiLLM.QwenBaseURL),
		})
	case "ollama":
		provider, err = ollamaLLM.NewClient(&ollamaLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		provider, err = anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewMemoryError("initLLM", ErrInvalidConfig)
	}
	if err != nil {
		return nil, NewMemoryError("initLLM", err)
	}
	return provider, nil
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
