package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/turnmem-go/pkg/exchange"
	"github.com/oceanbase/turnmem-go/pkg/intelligence"
)

// Config contains the complete configuration for a turnmem client.
//
// It includes settings for:
//   - LLM provider (for the per-turn exchange call)
//   - Store (for memory persistence)
//   - Engine (retrieval, decay and extraction tuning)
//   - Log (level and format of the client's logger)
//
// Example:
//
//	config := core.DefaultConfig()
//	config.LLM = core.LLMConfig{
//	    Provider: "openai",
//	    APIKey:   "sk-...",
//	    Model:    "gpt-4o-mini",
//	}
//	config.Store = core.StoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path": "./turnmem.db",
//	    },
//	}
type Config struct {
	// LLM contains LLM provider configuration.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Store contains memory store configuration.
	Store StoreConfig `json:"store" yaml:"store"`

	// Engine contains retrieval and extraction parameters.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Log contains logger configuration.
	Log LogConfig `json:"log" yaml:"log"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, deepseek, qwen, anthropic, ollama.
// The provider may be left empty when the client is given a generator
// with WithGenerator.
type LLMConfig struct {
	// Provider is the LLM provider name.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the model name to use (e.g., "gpt-4o-mini", "deepseek-chat").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Temperature is the sampling temperature of the exchange call (0 uses 0.3).
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// MaxTokens limits the exchange response (0 uses 4096).
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// TopP is the nucleus sampling parameter (0 uses the provider default).
	TopP float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
}

// StoreConfig contains configuration for the memory store.
//
// Supported providers: inmemory, sqlite, postgres, oceanbase
//
// Example:
//
//	storeConfig := core.StoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path":         "./turnmem.db",
//	        "collection_name": "memories",
//	    },
//	}
type StoreConfig struct {
	// Provider is the store provider name.
	Provider string `json:"provider" yaml:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, collection_name
	// For OceanBase: host, port, user, password, db_name, collection_name
	// For PostgreSQL: host, port, user, password, db_name, collection_name, ssl_mode
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// EngineConfig tunes classification, retrieval, decay and extraction.
type EngineConfig struct {
	// TopK is the maximum number of memories sent to the exchange.
	TopK int `json:"top_k" yaml:"top_k"`

	// Tau is the decay time constant in turns.
	Tau float64 `json:"tau" yaml:"tau"`

	// Cutoff is the minimum score a memory needs to be retrieved.
	Cutoff float64 `json:"cutoff" yaml:"cutoff"`

	// CrossTypeRecall also retrieves memories outside the intent hints,
	// weighted by CrossTypeWeight.
	CrossTypeRecall bool `json:"cross_type_recall" yaml:"cross_type_recall"`

	// CrossTypeWeight is the score weight of memories outside the intent hints.
	CrossTypeWeight float64 `json:"cross_type_weight" yaml:"cross_type_weight"`

	// ReinforcementFactor is how much a repeated extraction raises confidence.
	ReinforcementFactor float64 `json:"reinforcement_factor" yaml:"reinforcement_factor"`

	// DefaultConfidence applies to extracted memories without a confidence.
	DefaultConfidence float64 `json:"default_confidence" yaml:"default_confidence"`

	// MinConfidence drops extracted memories below it.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`

	// ExchangeTimeoutSeconds bounds the exchange call.
	ExchangeTimeoutSeconds int `json:"exchange_timeout_seconds" yaml:"exchange_timeout_seconds"`

	// ClassifierCacheSize is the number of classified inputs memoized (0 disables).
	ClassifierCacheSize int64 `json:"classifier_cache_size" yaml:"classifier_cache_size"`
}

// ExchangeTimeout returns the exchange timeout as a duration.
func (e EngineConfig) ExchangeTimeout() time.Duration {
	return time.Duration(e.ExchangeTimeoutSeconds) * time.Second
}

// LogConfig configures the client logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format is text or json.
	Format string `json:"format" yaml:"format"`
}

// DefaultExchangeTimeoutSeconds is the default bound on the exchange call.
const DefaultExchangeTimeoutSeconds = 60

// DefaultConfig returns a configuration with an in-memory store, the openai
// provider and default engine parameters.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "openai",
		},
		Store: StoreConfig{
			Provider: "inmemory",
			Config:   map[string]interface{}{},
		},
		Engine: EngineConfig{
			TopK:                   intelligence.DefaultTopK,
			Tau:                    intelligence.DefaultTau,
			Cutoff:                 intelligence.DefaultCutoff,
			CrossTypeWeight:        intelligence.DefaultCrossTypeWeight,
			ReinforcementFactor:    intelligence.DefaultReinforcementFactor,
			DefaultConfidence:      exchange.DefaultConfidence,
			MinConfidence:          exchange.DefaultMinConfidence,
			ExchangeTimeoutSeconds: DefaultExchangeTimeoutSeconds,
			ClassifierCacheSize:    1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (inmemory, sqlite, oceanbase, postgres)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, etc.
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - MEMORY_TOP_K, MEMORY_DECAY_TAU, MEMORY_CUTOFF, MEMORY_CROSS_TYPE_RECALL
//   - EXCHANGE_TIMEOUT_SECONDS
//   - LOG_LEVEL, LOG_FORMAT
//
// Unparsable numeric values keep their defaults.
//
// Example:
//
//	config, err := core.LoadConfigFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	storeConfig := make(map[string]interface{})

	switch provider {
	case "oceanbase":
		storeConfig = map[string]interface{}{
			"host":            getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":            getEnvInt("OCEANBASE_PORT", 2881),
			"user":            getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":        os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":         getEnvOrDefault("OCEANBASE_DATABASE", "turnmem"),
			"collection_name": getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
		}
	case "sqlite":
		storeConfig = map[string]interface{}{
			"db_path":         getEnvOrDefault("SQLITE_PATH", "./turnmem.db"),
			"collection_name": getEnvOrDefault("SQLITE_COLLECTION", "memories"),
		}
	case "postgres":
		storeConfig = map[string]interface{}{
			"host":            getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":            getEnvInt("POSTGRES_PORT", 5432),
			"user":            getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":        os.Getenv("POSTGRES_PASSWORD"),
			"db_name":         getEnvOrDefault("POSTGRES_DATABASE", "turnmem"),
			"collection_name": getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"ssl_mode":        getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}
	config.Store = StoreConfig{Provider: provider, Config: storeConfig}

	llmProvider := getEnvOrDefault("LLM_PROVIDER", "openai")
	var defaultModel string
	switch llmProvider {
	case "deepseek":
		defaultModel = "deepseek-chat"
	case "qwen":
		defaultModel = "qwen-plus"
	case "ollama":
		defaultModel = "llama3.1:8b"
	case "anthropic":
		defaultModel = "claude-3-5-sonnet-20240620"
	default:
		defaultModel = "gpt-4o-mini"
	}
	config.LLM = LLMConfig{
		Provider: llmProvider,
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    getEnvOrDefault("LLM_MODEL", defaultModel),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}

	config.Engine.TopK = getEnvInt("MEMORY_TOP_K", config.Engine.TopK)
	config.Engine.Tau = getEnvFloat("MEMORY_DECAY_TAU", config.Engine.Tau)
	config.Engine.Cutoff = getEnvFloat("MEMORY_CUTOFF", config.Engine.Cutoff)
	config.Engine.CrossTypeRecall = os.Getenv("MEMORY_CROSS_TYPE_RECALL") == "true"
	config.Engine.ExchangeTimeoutSeconds = getEnvInt("EXCHANGE_TIMEOUT_SECONDS", config.Engine.ExchangeTimeoutSeconds)

	config.Log.Level = getEnvOrDefault("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnvOrDefault("LOG_FORMAT", config.Log.Format)

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	return config, nil
}

// Validate validates the configuration.
//
// Checks that:
//   - the store provider is known
//   - the LLM provider, when set, is known
//   - engine parameters are within range
//
// Returns an error wrapping ErrInvalidConfig if validation fails, nil otherwise.
func (c *Config) Validate() error {
	switch c.Store.Provider {
	case "inmemory", "sqlite", "postgres", "oceanbase":
	default:
		return invalidConfig("store.provider", c.Store.Provider)
	}

	switch c.LLM.Provider {
	case "", "openai", "deepseek", "qwen", "anthropic", "ollama":
	default:
		return invalidConfig("llm.provider", c.LLM.Provider)
	}
	if c.LLM.TopP < 0 || c.LLM.TopP > 1 {
		return invalidConfig("llm.top_p", c.LLM.TopP)
	}

	e := c.Engine
	switch {
	case e.TopK < 0:
		return invalidConfig("engine.top_k", e.TopK)
	case e.Tau < 0:
		return invalidConfig("engine.tau", e.Tau)
	case e.Cutoff < 0 || e.Cutoff >= 1:
		return invalidConfig("engine.cutoff", e.Cutoff)
	case e.CrossTypeWeight < 0 || e.CrossTypeWeight > 1:
		return invalidConfig("engine.cross_type_weight", e.CrossTypeWeight)
	case e.ReinforcementFactor < 0 || e.ReinforcementFactor > 1:
		return invalidConfig("engine.reinforcement_factor", e.ReinforcementFactor)
	case e.DefaultConfidence < 0 || e.DefaultConfidence > 1:
		return invalidConfig("engine.default_confidence", e.DefaultConfidence)
	case e.MinConfidence < 0 || e.MinConfidence > 1:
		return invalidConfig("engine.min_confidence", e.MinConfidence)
	case e.ExchangeTimeoutSeconds < 0:
		return invalidConfig("engine.exchange_timeout_seconds", e.ExchangeTimeoutSeconds)
	case e.ClassifierCacheSize < 0:
		return invalidConfig("engine.classifier_cache_size", e.ClassifierCacheSize)
	}
	return nil
}

func invalidConfig(field string, value interface{}) error {
	return NewMemoryError("Validate", fmt.Errorf("%w: %s = %v", ErrInvalidConfig, field, value))
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

// configString reads a string value from a provider config map.
func configString(m map[string]interface{}, key, defaultValue string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return defaultValue
}

// configInt reads an integer from a provider config map. JSON numbers decode
// as float64 and YAML numbers as int, so both are accepted along with strings.
func configInt(m map[string]interface{}, key string, defaultValue int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
