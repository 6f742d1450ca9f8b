package hnswstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) database.VectorStore {
		store, err := Open(t.TempDir(), "faces")
		require.NoError(t, err)
		return store
	})
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir, "faces")
	require.NoError(t, err)
	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{
		storetest.Record("E1", "Alice", 1, 0, 0),
		storetest.Record("E2", "Bob", 0, 1, 0),
	}))
	removed, err := store.DeleteByStaffID(ctx, "E2")
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, "faces")
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	neighbors, err := reopened.NearestNeighbors(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "E1", neighbors[0].Record.StaffID)
}

func TestStoreWritesAreDurableWithoutClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir, "faces")
	require.NoError(t, err)
	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{storetest.Record("E1", "Alice", 1, 0)}))

	// A second process opening the directory sees the write even though the
	// graph was never exported.
	other, err := Open(dir, "faces")
	require.NoError(t, err)
	found, err := other.FindByStaffID(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestStoreReopenAfterUncleanExit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir, "faces")
	require.NoError(t, err)
	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{
		storetest.Record("A", "Alice", 1, 0, 0),
		storetest.Record("B", "Bob", 0, 1, 0),
	}))
	require.NoError(t, store.Close())

	// Replace A with C and exit without Close: the graph on disk still holds
	// A and B while the record snapshot holds B and C.
	crashed, err := Open(dir, "faces")
	require.NoError(t, err)
	_, err = crashed.DeleteByStaffID(ctx, "A")
	require.NoError(t, err)
	require.NoError(t, crashed.UpsertBatch(ctx, []database.IdentityRecord{storetest.Record("C", "Carol", 0, 0, 1)}))

	reopened, err := Open(dir, "faces")
	require.NoError(t, err)
	defer reopened.Close()

	neighbors, err := reopened.NearestNeighbors(ctx, []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "C", neighbors[0].Record.StaffID)
	assert.InDelta(t, 1.0, neighbors[0].Similarity, 1e-5)

	all, err := reopened.NearestNeighbors(ctx, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "B", all[0].Record.StaffID)
}

func TestStoreUnavailableOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir, "faces")
	require.NoError(t, err)

	// Replace the snapshot location with a directory so the rename fails.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "faces.records"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faces.records", "x"), []byte("x"), 0600))

	err = store.UpsertBatch(ctx, []database.IdentityRecord{storetest.Record("E1", "Alice", 1, 0)})
	require.ErrorIs(t, err, database.ErrStoreUnavailable)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "failed write must not become visible")
}
