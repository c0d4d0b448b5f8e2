// Package sqlite provides the SQLite implementation of storage.Store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-process agents. Foreign keys are enabled so usage events are
// removed together with their memory, and WAL journaling lets readers proceed
// while a turn is being committed.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oceanbase/turnmem-go/pkg/storage/sqlstore"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	*sqlstore.Store
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CollectionName is the name of the memories table.
	CollectionName string
}

// Dialect is the SQLite flavour of the shared SQL schema.
var Dialect = sqlstore.Dialect{
	Name:   "sqlite",
	Schema: schema,
}

// NewClient creates a new SQLite store client.
//
// Parameters:
//   - cfg: Configuration containing database path and table name
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
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
			id INTEGER PRIMARY KEY,
			user_id TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			content TEXT NOT NULL,
			normalized_content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			created_turn INTEGER NOT NULL,
			last_used_turn INTEGER NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, memories),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_content ON %s(user_id, memory_type, content_hash)`, memories, memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_type ON %s(user_id, memory_type)`, memories, memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_last_used ON %s(user_id, last_used_turn)`, memories, memories),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			memory_id INTEGER NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			used_at_turn INTEGER NOT NULL,
			relevance_score REAL NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, usage, memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_memory ON %s(memory_id)`, usage, usage),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(user_id)`, usage, usage),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT PRIMARY KEY,
			last_turn INTEGER NOT NULL
		)`, turns),
	}
}
