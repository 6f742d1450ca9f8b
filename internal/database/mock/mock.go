// Package mock provides a VectorStore with error injection for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
)

// Store is an in-memory database.VectorStore whose methods can be made to fail.
type Store struct {
	inner *memory.Store

	mu    sync.Mutex
	calls map[string]int

	// Error injection
	UpsertError  error
	NearestError error
	FindError    error
	DeleteError  error
	CountError   error
	ListError    error

	// UpsertErrorOnCall limits UpsertError to the n-th UpsertBatch call
	// (1-based). Zero applies it to every call.
	UpsertErrorOnCall int
}

// NewStore creates an empty mock store.
func NewStore() *Store {
	return &Store{inner: memory.New(), calls: make(map[string]int)}
}

// Calls returns how many times method was invoked.
func (m *Store) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Store) record(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	return m.calls[method]
}

// UpsertBatch inserts or replaces records
func (m *Store) UpsertBatch(ctx context.Context, records []database.IdentityRecord) error {
	n := m.record("UpsertBatch")
	if m.UpsertError != nil && (m.UpsertErrorOnCall == 0 || m.UpsertErrorOnCall == n) {
		return m.UpsertError
	}
	return m.inner.UpsertBatch(ctx, records)
}

// NearestNeighbors returns the k most similar records
func (m *Store) NearestNeighbors(ctx context.Context, query []float32, k int) ([]database.Neighbor, error) {
	m.record("NearestNeighbors")
	if m.NearestError != nil {
		return nil, m.NearestError
	}
	return m.inner.NearestNeighbors(ctx, query, k)
}

// FindByStaffID returns the records of staffID
func (m *Store) FindByStaffID(ctx context.Context, staffID string) ([]database.IdentityRecord, error) {
	m.record("FindByStaffID")
	if m.FindError != nil {
		return nil, m.FindError
	}
	return m.inner.FindByStaffID(ctx, staffID)
}

// DeleteByStaffID removes the records of staffID
func (m *Store) DeleteByStaffID(ctx context.Context, staffID string) (int, error) {
	m.record("DeleteByStaffID")
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	return m.inner.DeleteByStaffID(ctx, staffID)
}

// ListStaff returns all records
func (m *Store) ListStaff(ctx context.Context) ([]database.IdentityRecord, error) {
	m.record("ListStaff")
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.inner.ListStaff(ctx)
}

// Count returns the number of records
func (m *Store) Count(ctx context.Context) (int, error) {
	m.record("Count")
	if m.CountError != nil {
		return 0, m.CountError
	}
	return m.inner.Count(ctx)
}

// Close is a no-op
func (m *Store) Close() error {
	return nil
}
