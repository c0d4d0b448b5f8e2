// Package sqlstore implements storage.Store on top of database/sql.
//
// The SQLite, PostgreSQL and OceanBase backends share this implementation and
// differ only in their Dialect: placeholder style and table DDL. Three tables
// are kept per collection: the memories table, an append-only usage table named
// "<collection>_usage" and a per-user turn marker table named "<collection>_turns".
package sqlstore

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	// Name identifies the dialect in error messages.
	Name string

	// DollarPlaceholders selects $1, $2, ... instead of ?.
	DollarPlaceholders bool

	// Schema returns the DDL statements for the memories, usage and turns tables.
	Schema func(memoriesTable, usageTable, turnsTable string) []string
}

// Store is a database/sql backed storage.Store.
type Store struct {
	db            *sql.DB
	dialect       Dialect
	memoriesTable string
	usageTable    string
	turnsTable    string
}

// New wraps db and creates the tables if they do not exist.
func New(ctx context.Context, db *sql.DB, dialect Dialect, collectionName string) (*Store, error) {
	if collectionName == "" {
		collectionName = "memories"
	}

	s := &Store{
		db:            db,
		dialect:       dialect,
		memoriesTable: collectionName,
		usageTable:    collectionName + "_usage",
		turnsTable:    collectionName + "_turns",
	}

	for _, stmt := range dialect.Schema(s.memoriesTable, s.usageTable, s.turnsTable) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("initTables(%s): %w", dialect.Name, err)
		}
	}

	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

const memoryColumns = `id, user_id, memory_type, content, normalized_content, confidence,
	created_turn, last_used_turn, usage_count, created_at, updated_at`

// GetMemories returns the user's memories ordered by ID.
func (s *Store) GetMemories(ctx context.Context, userID string, types []storage.MemoryType) ([]*storage.Memory, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ?", memoryColumns, s.memoriesTable)
	args := []interface{}{userID}

	if len(types) > 0 {
		marks := make([]string, len(types))
		for i, t := range types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		query += " AND memory_type IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("GetMemories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*storage.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("GetMemories: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetMemories: %w", err)
	}

	return memories, nil
}

// GetUsageEvents returns the user's usage events in insertion order.
func (s *Store) GetUsageEvents(ctx context.Context, userID string, memoryID int64) ([]*storage.UsageEvent, error) {
	query := fmt.Sprintf(`SELECT id, memory_id, user_id, used_at_turn, relevance_score, created_at
		FROM %s WHERE user_id = ?`, s.usageTable)
	args := []interface{}{userID}
	if memoryID != 0 {
		query += " AND memory_id = ?"
		args = append(args, memoryID)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("GetUsageEvents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*storage.UsageEvent
	for rows.Next() {
		var e storage.UsageEvent
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.UserID, &e.Turn, &e.Score, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("GetUsageEvents: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetUsageEvents: %w", err)
	}

	return events, nil
}

// LatestTurn returns the highest turn recorded for the user.
func (s *Store) LatestTurn(ctx context.Context, userID string) (int, error) {
	latest := 0
	queries := []string{
		fmt.Sprintf("SELECT COALESCE(MAX(last_turn), 0) FROM %s WHERE user_id = ?", s.turnsTable),
		fmt.Sprintf("SELECT COALESCE(MAX(last_used_turn), 0) FROM %s WHERE user_id = ?", s.memoriesTable),
		fmt.Sprintf("SELECT COALESCE(MAX(used_at_turn), 0) FROM %s WHERE user_id = ?", s.usageTable),
	}
	for _, query := range queries {
		var turn int
		if err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(&turn); err != nil {
			return 0, fmt.Errorf("LatestTurn: %w", err)
		}
		if turn > latest {
			latest = turn
		}
	}
	return latest, nil
}

// Begin starts a database transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Begin: %w", err)
	}
	return &tx{store: s, tx: sqlTx}, nil
}

// DeleteAll removes the user's usage events, memories and turn marker.
func (s *Store) DeleteAll(ctx context.Context, userID string) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteAll: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	for _, table := range []string{s.usageTable, s.memoriesTable, s.turnsTable} {
		query := fmt.Sprintf("DELETE FROM %s WHERE user_id = ?", table)
		if _, err := sqlTx.ExecContext(ctx, s.rebind(query), userID); err != nil {
			return fmt.Errorf("DeleteAll: %w", err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("DeleteAll: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that use $n.
func (s *Store) rebind(query string) string {
	if !s.dialect.DollarPlaceholders {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tx wraps a *sql.Tx.
type tx struct {
	store *Store
	tx    *sql.Tx
}

func (t *tx) FindByContent(ctx context.Context, userID string, memoryType storage.MemoryType, normalized string) (*storage.Memory, error) {
	s := t.store
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE user_id = ? AND memory_type = ? AND content_hash = ?`, memoryColumns, s.memoriesTable)

	rows, err := t.tx.QueryContext(ctx, s.rebind(query), userID, string(memoryType), contentHash(normalized))
	if err != nil {
		return nil, fmt.Errorf("FindByContent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("FindByContent: %w", err)
		}
		if m.NormalizedContent == normalized {
			return m, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindByContent: %w", err)
	}

	return nil, nil
}

func (t *tx) InsertMemory(ctx context.Context, memory *storage.Memory) (int64, error) {
	s := t.store
	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, memory_type, content, normalized_content, content_hash, confidence,
		 created_turn, last_used_turn, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.memoriesTable)

	now := time.Now().UTC()
	createdAt := memory.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := t.tx.ExecContext(ctx, s.rebind(query),
		memory.ID,
		memory.UserID,
		string(memory.Type),
		memory.Content,
		memory.NormalizedContent,
		contentHash(memory.NormalizedContent),
		memory.Confidence,
		memory.CreatedTurn,
		memory.LastUsedTurn,
		memory.UsageCount,
		createdAt,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("InsertMemory: %w", err)
	}

	return memory.ID, nil
}

func (t *tx) UpdateMemoryConfidence(ctx context.Context, id int64, confidence float64) error {
	s := t.store
	query := fmt.Sprintf("UPDATE %s SET confidence = ?, updated_at = ? WHERE id = ?", s.memoriesTable)
	result, err := t.tx.ExecContext(ctx, s.rebind(query), confidence, time.Now().UTC(), id)
	return checkAffected("UpdateMemoryConfidence", result, err)
}

func (t *tx) UpdateMemoryUsage(ctx context.Context, id int64, turn int) error {
	s := t.store
	query := fmt.Sprintf(`UPDATE %s
		SET last_used_turn = CASE WHEN last_used_turn < ? THEN ? ELSE last_used_turn END,
		    usage_count = usage_count + 1,
		    updated_at = ?
		WHERE id = ?`, s.memoriesTable)
	result, err := t.tx.ExecContext(ctx, s.rebind(query), turn, turn, time.Now().UTC(), id)
	return checkAffected("UpdateMemoryUsage", result, err)
}

func (t *tx) AppendUsageEvent(ctx context.Context, event *storage.UsageEvent) error {
	s := t.store
	query := fmt.Sprintf(`INSERT INTO %s
		(id, memory_id, user_id, used_at_turn, relevance_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, s.usageTable)

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, s.rebind(query),
		event.ID, event.MemoryID, event.UserID, event.Turn, event.Score, createdAt)
	if err != nil {
		return fmt.Errorf("AppendUsageEvent: %w", err)
	}
	return nil
}

// MarkTurn raises the user's turn marker, inserting it on the first turn.
func (t *tx) MarkTurn(ctx context.Context, userID string, turn int) error {
	s := t.store
	query := fmt.Sprintf(`UPDATE %s
		SET last_turn = CASE WHEN last_turn < ? THEN ? ELSE last_turn END
		WHERE user_id = ?`, s.turnsTable)
	result, err := t.tx.ExecContext(ctx, s.rebind(query), turn, turn, userID)
	if err != nil {
		return fmt.Errorf("MarkTurn: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("MarkTurn: %w", err)
	} else if n > 0 {
		return nil
	}

	query = fmt.Sprintf("INSERT INTO %s (user_id, last_turn) VALUES (?, ?)", s.turnsTable)
	if _, err := t.tx.ExecContext(ctx, s.rebind(query), userID, turn); err != nil {
		return fmt.Errorf("MarkTurn: %w", err)
	}
	return nil
}

func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// scanMemory scans one memories row.
func scanMemory(rows *sql.Rows) (*storage.Memory, error) {
	var m storage.Memory
	var memoryType string
	err := rows.Scan(
		&m.ID,
		&m.UserID,
		&memoryType,
		&m.Content,
		&m.NormalizedContent,
		&m.Confidence,
		&m.CreatedTurn,
		&m.LastUsedTurn,
		&m.UsageCount,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = storage.MemoryType(memoryType)
	return &m, nil
}

func checkAffected(op string, result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

// contentHash keys the unique (user, type, content) index so backends that
// cannot index long TEXT columns still enforce it.
func contentHash(normalized string) string {
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
