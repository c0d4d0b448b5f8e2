// Package storagetest holds a behavioural test suite shared by every
// storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/turnmem-go/pkg/storage"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndRead", func(t *testing.T) { testInsertAndRead(t, newStore(t)) })
	t.Run("FindByContent", func(t *testing.T) { testFindByContent(t, newStore(t)) })
	t.Run("DuplicateContentRejected", func(t *testing.T) { testDuplicateContent(t, newStore(t)) })
	t.Run("UsageIsMonotonic", func(t *testing.T) { testUsage(t, newStore(t)) })
	t.Run("UnknownMemory", func(t *testing.T) { testUnknownMemory(t, newStore(t)) })
	t.Run("RollbackDiscards", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("UncommittedInvisible", func(t *testing.T) { testUncommittedInvisible(t, newStore(t)) })
	t.Run("LatestTurn", func(t *testing.T) { testLatestTurn(t, newStore(t)) })
	t.Run("MarkTurn", func(t *testing.T) { testMarkTurn(t, newStore(t)) })
	t.Run("DeleteAll", func(t *testing.T) { testDeleteAll(t, newStore(t)) })
}

// NewMemory builds a memory ready for insertion.
func NewMemory(id int64, userID string, memoryType storage.MemoryType, content string, turn int) *storage.Memory {
	return &storage.Memory{
		ID:                id,
		UserID:            userID,
		Type:              memoryType,
		Content:           content,
		NormalizedContent: content,
		Confidence:        0.9,
		CreatedTurn:       turn,
		LastUsedTurn:      turn,
	}
}

// Seed inserts memories in a single committed transaction.
func Seed(t *testing.T, store storage.Store, memories ...*storage.Memory) {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, m := range memories {
		_, err := tx.InsertMemory(ctx, m)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
}

func testInsertAndRead(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	Seed(t, store,
		NewMemory(2, "alice", storage.TypePreference, "likes tea", 1),
		NewMemory(1, "alice", storage.TypeFact, "name is alice", 1),
		NewMemory(3, "bob", storage.TypeFact, "name is bob", 1),
	)

	all, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, int64(2), all[1].ID)
	assert.Equal(t, storage.TypeFact, all[0].Type)
	assert.Equal(t, "name is alice", all[0].Content)
	assert.InDelta(t, 0.9, all[0].Confidence, 1e-9)
	assert.Equal(t, 1, all[0].CreatedTurn)
	assert.Equal(t, 0, all[0].UsageCount)

	facts, err := store.GetMemories(ctx, "alice", []storage.MemoryType{storage.TypeFact})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, int64(1), facts[0].ID)

	none, err := store.GetMemories(ctx, "carol", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testFindByContent(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	Seed(t, store, NewMemory(10, "alice", storage.TypeFact, "lives in new york", 1))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	found, err := tx.FindByContent(ctx, "alice", storage.TypeFact, "lives in new york")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(10), found.ID)

	missing, err := tx.FindByContent(ctx, "alice", storage.TypePreference, "lives in new york")
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := tx.FindByContent(ctx, "bob", storage.TypeFact, "lives in new york")
	require.NoError(t, err)
	assert.Nil(t, other)

	// Rows staged earlier in the same transaction are visible to it.
	_, err = tx.InsertMemory(ctx, NewMemory(11, "alice", storage.TypeFact, "works at acme", 1))
	require.NoError(t, err)
	staged, err := tx.FindByContent(ctx, "alice", storage.TypeFact, "works at acme")
	require.NoError(t, err)
	require.NotNil(t, staged)
	assert.Equal(t, int64(11), staged.ID)
}

func testDuplicateContent(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	Seed(t, store, NewMemory(1, "alice", storage.TypeFact, "name is alice", 1))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertMemory(ctx, NewMemory(2, "alice", storage.TypeFact, "name is alice", 2))
	assert.Error(t, err)
	require.NoError(t, tx.Rollback())

	all, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testUsage(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	Seed(t, store, NewMemory(1, "alice", storage.TypeFact, "name is alice", 1))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateMemoryUsage(ctx, 1, 5))
	require.NoError(t, tx.AppendUsageEvent(ctx, &storage.UsageEvent{ID: "e1", MemoryID: 1, UserID: "alice", Turn: 5, Score: 0.8}))
	require.NoError(t, tx.Commit())

	// An older turn never lowers last_used_turn.
	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateMemoryUsage(ctx, 1, 3))
	require.NoError(t, tx.AppendUsageEvent(ctx, &storage.UsageEvent{ID: "e2", MemoryID: 1, UserID: "alice", Turn: 3, Score: 0.5}))
	require.NoError(t, tx.Commit())

	all, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 5, all[0].LastUsedTurn)
	assert.Equal(t, 2, all[0].UsageCount)

	events, err := store.GetUsageEvents(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, 5, events[0].Turn)
	assert.InDelta(t, 0.8, events[0].Score, 1e-9)
	assert.Equal(t, "e2", events[1].ID)

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateMemoryConfidence(ctx, 1, 0.95))
	require.NoError(t, tx.Commit())

	all, err = store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, all[0].Confidence, 1e-9)
}

func testUnknownMemory(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	err = tx.UpdateMemoryUsage(ctx, 404, 1)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func testRollback(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	Seed(t, store, NewMemory(1, "alice", storage.TypeFact, "name is alice", 1))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertMemory(ctx, NewMemory(2, "alice", storage.TypePreference, "likes tea", 2))
	require.NoError(t, err)
	require.NoError(t, tx.UpdateMemoryUsage(ctx, 1, 2))
	require.NoError(t, tx.AppendUsageEvent(ctx, &storage.UsageEvent{ID: "e1", MemoryID: 1, UserID: "alice", Turn: 2}))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	all, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].LastUsedTurn)
	assert.Equal(t, 0, all[0].UsageCount)

	events, err := store.GetUsageEvents(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func testUncommittedInvisible(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.InsertMemory(ctx, NewMemory(1, "alice", storage.TypeFact, "name is alice", 1))
	require.NoError(t, err)

	before, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, before)

	require.NoError(t, tx.Commit())

	after, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Len(t, after, 1)
}

func testLatestTurn(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	latest, err := store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, latest)

	Seed(t, store,
		NewMemory(1, "alice", storage.TypeFact, "name is alice", 3),
		NewMemory(2, "bob", storage.TypeFact, "name is bob", 9),
	)

	latest, err = store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, latest)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateMemoryUsage(ctx, 1, 7))
	require.NoError(t, tx.Commit())

	latest, err = store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 7, latest)
}

func testMarkTurn(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	mark := func(turn int) {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.MarkTurn(ctx, "alice", turn))
		require.NoError(t, tx.Commit())
	}

	mark(4)
	latest, err := store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, latest)

	mark(2)
	latest, err = store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, latest)

	mark(6)
	latest, err = store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 6, latest)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.MarkTurn(ctx, "alice", 10))
	require.NoError(t, tx.Rollback())

	latest, err = store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 6, latest)

	other, err := store.LatestTurn(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, other)
}

func testDeleteAll(t *testing.T, store storage.Store) {
	defer store.Close()
	ctx := context.Background()

	Seed(t, store,
		NewMemory(1, "alice", storage.TypeFact, "name is alice", 1),
		NewMemory(2, "bob", storage.TypeFact, "name is bob", 1),
	)
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AppendUsageEvent(ctx, &storage.UsageEvent{ID: "e1", MemoryID: 1, UserID: "alice", Turn: 1}))
	require.NoError(t, tx.MarkTurn(ctx, "alice", 5))
	require.NoError(t, tx.Commit())

	require.NoError(t, store.DeleteAll(ctx, "alice"))

	latest, err := store.LatestTurn(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, latest)

	alice, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, alice)
	events, err := store.GetUsageEvents(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	bob, err := store.GetMemories(ctx, "bob", nil)
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}
