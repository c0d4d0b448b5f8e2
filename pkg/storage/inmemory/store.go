// Package inmemory provides a process-local implementation of storage.Store.
//
// It is intended for tests, examples and short-lived agents. Transactions stage
// their writes in a private overlay and apply them under the store's write lock
// on Commit, so readers never observe a partially applied turn.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("inmemory: transaction already committed or rolled back")

// Store implements storage.Store on top of Go maps.
type Store struct {
	mu       sync.RWMutex
	memories map[int64]*storage.Memory
	events   []*storage.UsageEvent
	turns    map[string]int
	closed   bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		memories: make(map[int64]*storage.Memory),
		turns:    make(map[string]int),
	}
}

// GetMemories returns copies of the user's memories ordered by ID.
func (s *Store) GetMemories(ctx context.Context, userID string, types []storage.MemoryType) ([]*storage.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("GetMemories: store closed")
	}

	var out []*storage.Memory
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		if len(types) > 0 && !storage.ContainsType(types, m.Type) {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetUsageEvents returns copies of the user's usage events in insertion order.
func (s *Store) GetUsageEvents(ctx context.Context, userID string, memoryID int64) ([]*storage.UsageEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.UsageEvent
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if memoryID != 0 && e.MemoryID != memoryID {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// LatestTurn returns the highest turn recorded for the user.
func (s *Store) LatestTurn(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.turns[userID]
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		if m.CreatedTurn > latest {
			latest = m.CreatedTurn
		}
		if m.LastUsedTurn > latest {
			latest = m.LastUsedTurn
		}
	}
	for _, e := range s.events {
		if e.UserID == userID && e.Turn > latest {
			latest = e.Turn
		}
	}
	return latest, nil
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("Begin: store closed")
	}

	return &tx{
		store:   s,
		staged:  make(map[int64]*storage.Memory),
		created: make(map[int64]bool),
		turns:   make(map[string]int),
	}, nil
}

// DeleteAll removes the user's memories and usage events.
func (s *Store) DeleteAll(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.memories {
		if m.UserID == userID {
			delete(s.memories, id)
		}
	}
	kept := s.events[:0]
	for _, e := range s.events {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	s.events = kept
	delete(s.turns, userID)
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// tx stages writes until Commit.
type tx struct {
	store *Store

	// staged holds every memory touched by the transaction, keyed by ID.
	staged map[int64]*storage.Memory

	// created marks staged entries that are new inserts.
	created map[int64]bool

	events []*storage.UsageEvent
	turns  map[string]int
	done   bool
}

// lookup returns the staged copy of a memory, staging it from the store on first access.
func (t *tx) lookup(id int64) (*storage.Memory, error) {
	if m, ok := t.staged[id]; ok {
		return m, nil
	}

	t.store.mu.RLock()
	base, ok := t.store.memories[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	m := base.Clone()
	t.staged[id] = m
	return m, nil
}

func (t *tx) FindByContent(ctx context.Context, userID string, memoryType storage.MemoryType, normalized string) (*storage.Memory, error) {
	if t.done {
		return nil, ErrTxDone
	}

	for _, m := range t.staged {
		if m.UserID == userID && m.Type == memoryType && m.NormalizedContent == normalized {
			return m.Clone(), nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, m := range t.store.memories {
		if m.UserID == userID && m.Type == memoryType && m.NormalizedContent == normalized {
			return m.Clone(), nil
		}
	}
	return nil, nil
}

func (t *tx) InsertMemory(ctx context.Context, memory *storage.Memory) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}
	if memory.ID == 0 {
		return 0, fmt.Errorf("InsertMemory: memory ID is required")
	}
	if _, ok := t.staged[memory.ID]; ok {
		return 0, fmt.Errorf("InsertMemory: duplicate id %d", memory.ID)
	}

	existing, err := t.FindByContent(ctx, memory.UserID, memory.Type, memory.NormalizedContent)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, fmt.Errorf("InsertMemory: duplicate content for memory %d", existing.ID)
	}

	t.store.mu.RLock()
	_, exists := t.store.memories[memory.ID]
	t.store.mu.RUnlock()
	if exists {
		return 0, fmt.Errorf("InsertMemory: duplicate id %d", memory.ID)
	}

	now := time.Now()
	m := memory.Clone()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	t.staged[m.ID] = m
	t.created[m.ID] = true
	return m.ID, nil
}

func (t *tx) UpdateMemoryConfidence(ctx context.Context, id int64, confidence float64) error {
	if t.done {
		return ErrTxDone
	}
	m, err := t.lookup(id)
	if err != nil {
		return fmt.Errorf("UpdateMemoryConfidence: %w", err)
	}
	m.Confidence = confidence
	m.UpdatedAt = time.Now()
	return nil
}

func (t *tx) UpdateMemoryUsage(ctx context.Context, id int64, turn int) error {
	if t.done {
		return ErrTxDone
	}
	m, err := t.lookup(id)
	if err != nil {
		return fmt.Errorf("UpdateMemoryUsage: %w", err)
	}
	if turn > m.LastUsedTurn {
		m.LastUsedTurn = turn
	}
	m.UsageCount++
	m.UpdatedAt = time.Now()
	return nil
}

func (t *tx) AppendUsageEvent(ctx context.Context, event *storage.UsageEvent) error {
	if t.done {
		return ErrTxDone
	}
	c := *event
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	t.events = append(t.events, &c)
	return nil
}

func (t *tx) MarkTurn(ctx context.Context, userID string, turn int) error {
	if t.done {
		return ErrTxDone
	}
	if turn > t.turns[userID] {
		t.turns[userID] = turn
	}
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("Commit: store closed")
	}
	for id := range t.staged {
		if !t.created[id] {
			if _, ok := s.memories[id]; !ok {
				return fmt.Errorf("Commit: memory %d: %w", id, storage.ErrNotFound)
			}
		}
	}

	for id, m := range t.staged {
		s.memories[id] = m
	}
	s.events = append(s.events, t.events...)
	for userID, turn := range t.turns {
		if turn > s.turns[userID] {
			s.turns[userID] = turn
		}
	}
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.staged = nil
	t.events = nil
	t.turns = nil
	return nil
}
