package inmemory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/turnmem-go/pkg/storage"
	"github.com/oceanbase/turnmem-go/pkg/storage/inmemory"
	"github.com/oceanbase/turnmem-go/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return inmemory.NewStore()
	})
}

func TestStore_TxDone(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), inmemory.ErrTxDone)
	_, err = tx.InsertMemory(ctx, storagetest.NewMemory(1, "alice", storage.TypeFact, "x", 1))
	assert.ErrorIs(t, err, inmemory.ErrTxDone)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	storagetest.Seed(t, store, storagetest.NewMemory(1, "alice", storage.TypeFact, "name is alice", 1))

	got, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	got[0].Content = "mutated"

	again, err := store.GetMemories(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "name is alice", again[0].Content)
}

func TestStore_Closed(t *testing.T) {
	store := inmemory.NewStore()
	require.NoError(t, store.Close())

	_, err := store.GetMemories(context.Background(), "alice", nil)
	assert.Error(t, err)
	_, err = store.Begin(context.Background())
	assert.Error(t, err)
}
