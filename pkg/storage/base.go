// Package storage provides interfaces and types for memory storage backends.
//
// It defines the Store interface that all storage implementations must satisfy,
// along with the Memory and UsageEvent records they persist. The types live here
// rather than in the core package so backends and the intelligence package can
// share them without import cycles.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a memory addressed by ID does not exist.
var ErrNotFound = errors.New("memory not found")

// MemoryType is the closed set of memory categories.
type MemoryType string

const (
	// TypeFact is a stable personal detail (name, location, job).
	TypeFact MemoryType = "fact"

	// TypePreference is a like, dislike or habit.
	TypePreference MemoryType = "preference"

	// TypeConstraint is a limitation or boundary the assistant must respect.
	TypeConstraint MemoryType = "constraint"

	// TypeInstruction is a standing instruction on how to behave.
	TypeInstruction MemoryType = "instruction"

	// TypeCommitment is a promise, plan or agreement.
	TypeCommitment MemoryType = "commitment"
)

var allMemoryTypes = []MemoryType{
	TypeFact,
	TypePreference,
	TypeConstraint,
	TypeInstruction,
	TypeCommitment,
}

// AllMemoryTypes returns every memory type in canonical order.
func AllMemoryTypes() []MemoryType {
	out := make([]MemoryType, len(allMemoryTypes))
	copy(out, allMemoryTypes)
	return out
}

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	for _, known := range allMemoryTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseMemoryType parses a memory type case-insensitively.
func ParseMemoryType(s string) (MemoryType, error) {
	t := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown memory type %q", s)
	}
	return t, nil
}

// Memory is a durable fact about a user.
type Memory struct {
	// ID is the unique identifier of the memory. Immutable.
	ID int64

	// UserID identifies the user who owns this memory. Immutable.
	UserID string

	// Type is the memory category.
	Type MemoryType

	// Content is the trimmed text payload.
	Content string

	// NormalizedContent is the duplicate-detection key derived from Content.
	NormalizedContent string

	// Confidence is the extraction confidence (0.0-1.0).
	Confidence float64

	// CreatedTurn is the turn in which the memory was first extracted.
	CreatedTurn int

	// LastUsedTurn is the most recent turn in which the memory was used.
	// Always >= CreatedTurn.
	LastUsedTurn int

	// UsageCount is how many times the memory was used in a reply.
	UsageCount int

	// CreatedAt is when the memory was created.
	CreatedAt time.Time

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time
}

// Clone returns a copy of the memory.
func (m *Memory) Clone() *Memory {
	c := *m
	return &c
}

// UsageEvent records one use of a memory at a given turn. Immutable once written.
type UsageEvent struct {
	// ID is the unique identifier of the event.
	ID string

	// MemoryID is the memory that was used.
	MemoryID int64

	// UserID is the owner of the memory.
	UserID string

	// Turn is the turn in which the memory was used.
	Turn int

	// Score is the retrieval score the memory had when it was used.
	Score float64

	// CreatedAt is when the event was recorded.
	CreatedAt time.Time
}

// Store defines the interface for memory storage backends.
//
// All implementations (in-memory, SQLite, PostgreSQL, OceanBase) must implement this interface.
// Reads go straight to the store; every write goes through a Tx so that a turn's
// writes become visible all at once or not at all.
type Store interface {
	// GetMemories returns the user's memories, restricted to types when non-empty.
	GetMemories(ctx context.Context, userID string, types []MemoryType) ([]*Memory, error)

	// GetUsageEvents returns the user's usage events in insertion order.
	// A zero memoryID returns events for all of the user's memories.
	GetUsageEvents(ctx context.Context, userID string, memoryID int64) ([]*UsageEvent, error)

	// LatestTurn returns the highest turn number recorded for the user, or 0.
	// It covers turns marked with Tx.MarkTurn as well as memory and usage turns.
	LatestTurn(ctx context.Context, userID string) (int, error)

	// Begin starts a write transaction.
	Begin(ctx context.Context) (Tx, error)

	// DeleteAll removes every memory, usage event and turn marker of the user.
	DeleteAll(ctx context.Context, userID string) error

	// Close closes the store and releases resources.
	Close() error
}

// Tx is a write transaction against a Store.
//
// Each operation is atomic on its own; Commit publishes all of them together and
// Rollback discards all of them. Rollback after Commit is a no-op.
type Tx interface {
	// FindByContent looks up a memory by its normalized content. Returns nil, nil when absent.
	FindByContent(ctx context.Context, userID string, memoryType MemoryType, normalized string) (*Memory, error)

	// InsertMemory inserts a new memory and returns its ID.
	InsertMemory(ctx context.Context, memory *Memory) (int64, error)

	// UpdateMemoryConfidence sets the confidence of an existing memory.
	UpdateMemoryConfidence(ctx context.Context, id int64, confidence float64) error

	// UpdateMemoryUsage records a use at turn: last_used_turn is raised to turn
	// and usage_count is incremented.
	UpdateMemoryUsage(ctx context.Context, id int64, turn int) error

	// AppendUsageEvent appends a usage event.
	AppendUsageEvent(ctx context.Context, event *UsageEvent) error

	// MarkTurn records turn as processed for the user. The marker never moves
	// backwards.
	MarkTurn(ctx context.Context, userID string, turn int) error

	// Commit publishes the transaction's writes.
	Commit() error

	// Rollback discards the transaction's writes.
	Rollback() error
}

// ContainsType reports whether types contains t.
func ContainsType(types []MemoryType, t MemoryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
