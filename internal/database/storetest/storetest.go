// Package storetest is a conformance suite every VectorStore backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Factory returns a new, empty store. The suite closes it.
type Factory func(t *testing.T) database.VectorStore

// Record builds a record for staffID with the given embedding.
func Record(staffID, name string, emb ...float32) database.IdentityRecord {
	return database.IdentityRecord{
		RecordID:       database.RecordID(staffID, name),
		StaffID:        staffID,
		Name:           name,
		Embedding:      emb,
		SourceFileName: staffID + ".jpg",
	}
}

// Run executes the suite against stores created by newStore.
func Run(t *testing.T, newStore Factory) {
	RunDim(t, 0, newStore)
}

// RunDim is Run for backends with a fixed embedding width: every embedding
// the suite writes or queries is zero-padded to dim, which leaves cosine
// similarities unchanged.
func RunDim(t *testing.T, dim int, newStore Factory) {
	s := suite{newStore: newStore, dim: dim}
	t.Run("EmptyStore", s.testEmptyStore)
	t.Run("UpsertIsIdempotent", s.testUpsertIdempotent)
	t.Run("NearestNeighbors", s.testNearestNeighbors)
	t.Run("FindAndDeleteByStaffID", s.testFindAndDelete)
	t.Run("InvalidBatchWritesNothing", s.testInvalidBatch)
	t.Run("ListStaff", s.testListStaff)
	t.Run("ConcurrentAccess", s.testConcurrentAccess)
}

type suite struct {
	newStore Factory
	dim      int
}

func (s suite) open(t *testing.T) database.VectorStore {
	t.Helper()
	store := s.newStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func (s suite) vec(v ...float32) []float32 {
	if len(v) == 0 || len(v) >= s.dim {
		return v
	}
	padded := make([]float32, s.dim)
	copy(padded, v)
	return padded
}

func (s suite) rec(staffID, name string, emb ...float32) database.IdentityRecord {
	return Record(staffID, name, s.vec(emb...)...)
}

func (s suite) testEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := s.open(t)

	neighbors, err := store.NearestNeighbors(ctx, s.vec(1, 0, 0), 1)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	removed, err := store.DeleteByStaffID(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, removed)

	found, err := store.FindByStaffID(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func (s suite) testUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := s.open(t)

	rec := s.rec("E1", "Alice", 1, 0, 0)
	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{rec}))
	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{rec}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rec.Embedding = s.vec(0, 1, 0)
	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{rec}))

	found, err := store.FindByStaffID(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.InDeltaSlice(t, s.vec(0, 1, 0), found[0].Embedding, 1e-6)
	assert.Equal(t, "Alice", found[0].Name)
	assert.Equal(t, "E1.jpg", found[0].SourceFileName)
}

func (s suite) testNearestNeighbors(t *testing.T) {
	ctx := context.Background()
	store := s.open(t)

	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{
		s.rec("E1", "Alice", 1, 0, 0),
		s.rec("E2", "Bob", 0, 1, 0),
		s.rec("E3", "Carol", 0.7, 0.7, 0),
	}))

	neighbors, err := store.NearestNeighbors(ctx, s.vec(0.9, 0.1, 0), 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "E1", neighbors[0].Record.StaffID)
	assert.Equal(t, "Alice", neighbors[0].Record.Name)

	all, err := store.NearestNeighbors(ctx, s.vec(0.9, 0.1, 0), 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"E1", "E3", "E2"}, staffIDs(all))
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Similarity, all[i].Similarity)
	}

	exact, err := store.NearestNeighbors(ctx, s.vec(0, 2, 0), 1)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.InDelta(t, 1.0, exact[0].Similarity, 1e-5)
}

func (s suite) testFindAndDelete(t *testing.T) {
	ctx := context.Background()
	store := s.open(t)

	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{
		s.rec("E1", "Alice", 1, 0, 0),
		s.rec("E1", "Alice B.", 0.9, 0.1, 0),
		s.rec("E2", "Bob", 0, 1, 0),
	}))

	found, err := store.FindByStaffID(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	removed, err := store.DeleteByStaffID(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	found, err = store.FindByStaffID(ctx, "E1")
	require.NoError(t, err)
	assert.Empty(t, found)

	neighbors, err := store.NearestNeighbors(ctx, s.vec(1, 0, 0), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"E2"}, staffIDs(neighbors))

	removed, err = store.DeleteByStaffID(ctx, "E1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func (s suite) testInvalidBatch(t *testing.T) {
	ctx := context.Background()
	store := s.open(t)

	err := store.UpsertBatch(ctx, []database.IdentityRecord{
		s.rec("E1", "Alice", 1, 0, 0),
		s.rec("E2", "Bob"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrInvalidRecord), "got %v", err)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func (s suite) testListStaff(t *testing.T) {
	ctx := context.Background()
	store := s.open(t)

	require.NoError(t, store.UpsertBatch(ctx, []database.IdentityRecord{
		s.rec("E2", "Bob", 0, 1, 0),
		s.rec("E1", "Alice", 1, 0, 0),
	}))

	list, err := store.ListStaff(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "E1", list[0].StaffID)
	assert.Equal(t, "E2", list[1].StaffID)
}

func (s suite) testConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := s.open(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("E%02d", i)
			errs <- store.UpsertBatch(ctx, []database.IdentityRecord{s.rec(id, "n", float32(i+1), 1, 0)})
		}()
		go func() {
			defer wg.Done()
			_, err := store.NearestNeighbors(ctx, s.vec(1, 1, 0), 3)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func staffIDs(neighbors []database.Neighbor) []string {
	ids := make([]string, len(neighbors))
	for i := range neighbors {
		ids[i] = neighbors[i].Record.StaffID
	}
	return ids
}
