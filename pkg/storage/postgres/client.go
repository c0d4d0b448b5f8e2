// Package postgres provides the PostgreSQL implementation of storage.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/oceanbase/turnmem-go/pkg/storage/sqlstore"
)

// Client is a PostgreSQL client.
type Client struct {
	*sqlstore.Store
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
	SSLMode        string
}

// Dialect is the PostgreSQL flavour of the shared SQL schema.
var Dialect = sqlstore.Dialect{
	Name:               "postgres",
	DollarPlaceholders: true,
	Schema:             schema,
}

// DSN builds a lib/pq connection string from cfg.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	store, err := sqlstore.New(context.Background(), db, Dialect, cfg.CollectionName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Client{Store: store}, nil
}

func schema(memories, usage, turns string) []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			memory_type VARCHAR(32) NOT NULL,
			content TEXT NOT NULL,
			normalized_content TEXT NOT NULL,
			content_hash CHAR(32) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_turn INTEGER NOT NULL,
			last_used_turn INTEGER NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`, memories),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_content ON %s(user_id, memory_type, content_hash)`, memories, memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_type ON %s(user_id, memory_type)`, memories, memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_last_used ON %s(user_id, last_used_turn)`, memories, memories),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			memory_id BIGINT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			user_id VARCHAR(255) NOT NULL,
			used_at_turn INTEGER NOT NULL,
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`, usage, memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_memory ON %s(memory_id)`, usage, usage),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, usage, usage),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(255) PRIMARY KEY,
			last_turn INTEGER NOT NULL
		)`, turns),
	}
}
