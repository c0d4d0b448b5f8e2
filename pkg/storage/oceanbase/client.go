// Package oceanbase provides the OceanBase implementation of storage.Store.
//
// OceanBase speaks the MySQL wire protocol, so the client uses
// go-sql-driver/mysql. The DSN enables clientFoundRows so an UPDATE that
// leaves a row unchanged still reports it as matched.
package oceanbase

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/oceanbase/turnmem-go/pkg/storage/sqlstore"
)

// Client is an OceanBase client.
type Client struct {
	*sqlstore.Store
}

// Config contains OceanBase configuration.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	CollectionName string
}

// Dialect is the MySQL/OceanBase flavour of the shared SQL schema.
var Dialect = sqlstore.Dialect{
	Name:   "oceanbase",
	Schema: schema,
}

// DSN builds a go-sql-driver/mysql connection string from cfg.
func (cfg *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewOceanBaseClient: %w", err)
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
			user_id VARCHAR(128) NOT NULL,
			memory_type VARCHAR(32) NOT NULL,
			content LONGTEXT NOT NULL,
			normalized_content LONGTEXT NOT NULL,
			content_hash CHAR(32) NOT NULL,
			confidence DOUBLE NOT NULL DEFAULT 0,
			created_turn INT NOT NULL,
			last_used_turn INT NOT NULL,
			usage_count INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6),
			updated_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6),
			UNIQUE INDEX idx_content (user_id, memory_type, content_hash),
			INDEX idx_user_type (user_id, memory_type),
			INDEX idx_user_last_used (user_id, last_used_turn)
		)`, memories),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			id VARCHAR(64) NOT NULL UNIQUE,
			memory_id BIGINT NOT NULL,
			user_id VARCHAR(128) NOT NULL,
			used_at_turn INT NOT NULL,
			relevance_score DOUBLE NOT NULL DEFAULT 0,
			created_at DATETIME(6) DEFAULT CURRENT_TIMESTAMP(6),
			INDEX idx_memory (memory_id),
			INDEX idx_user (user_id),
			FOREIGN KEY (memory_id) REFERENCES %s(id) ON DELETE CASCADE
		)`, usage, memories),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(128) PRIMARY KEY,
			last_turn INT NOT NULL
		)`, turns),
	}
}
