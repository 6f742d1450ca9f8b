// Package memory is an in-process VectorStore that scores every record on
// each query. It is the reference backend and the default for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.Register("memory", func(context.Context, config.DatabaseConfig) (database.VectorStore, error) {
		return New(), nil
	})
}

// Store keeps records in insertion order, so equal similarities rank stably.
type Store struct {
	mu      sync.RWMutex
	records []database.IdentityRecord
	byID    map[string]int
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: make(map[string]int), now: time.Now}
}

// UpsertBatch inserts or replaces records by RecordID.
func (s *Store) UpsertBatch(_ context.Context, records []database.IdentityRecord) error {
	if err := database.ValidateBatch(records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) > 0 && len(records) > 0 && len(s.records[0].Embedding) != len(records[0].Embedding) {
		return fmt.Errorf("%w: dimension %d, store uses %d",
			database.ErrInvalidRecord, len(records[0].Embedding), len(s.records[0].Embedding))
	}

	now := s.now()
	for _, rec := range database.CloneRecords(records) {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if i, ok := s.byID[rec.RecordID]; ok {
			s.records[i] = rec
			continue
		}
		s.byID[rec.RecordID] = len(s.records)
		s.records = append(s.records, rec)
	}
	return nil
}

// NearestNeighbors scores every record against query.
func (s *Store) NearestNeighbors(_ context.Context, query []float32, k int) ([]database.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return database.RankExact(s.records, query, k), nil
}

// FindByStaffID returns the records of staffID in insertion order.
func (s *Store) FindByStaffID(_ context.Context, staffID string) ([]database.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []database.IdentityRecord
	for i := range s.records {
		if s.records[i].StaffID == staffID {
			found = append(found, s.records[i])
		}
	}
	return database.CloneRecords(found), nil
}

// DeleteByStaffID removes the records of staffID.
func (s *Store) DeleteByStaffID(_ context.Context, staffID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if rec.StaffID == staffID {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	if removed == 0 {
		return 0, nil
	}

	// Clear the tail so removed embeddings can be collected.
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = database.IdentityRecord{}
	}
	s.records = kept
	s.byID = make(map[string]int, len(kept))
	for i := range kept {
		s.byID[kept[i].RecordID] = i
	}
	return removed, nil
}

// ListStaff returns all records sorted by staff ID.
func (s *Store) ListStaff(_ context.Context) ([]database.IdentityRecord, error) {
	s.mu.RLock()
	out := database.CloneRecords(s.records)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StaffID < out[j].StaffID })
	return out, nil
}

// Count returns the number of records.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
