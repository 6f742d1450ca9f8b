// Package hnswstore is an embedded VectorStore: records live in memory, are
// searched through an HNSW graph, and are persisted to a directory as a
// compressed record snapshot plus the exported graph.
package hnswstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.Register("hnsw", func(_ context.Context, cfg config.DatabaseConfig) (database.VectorStore, error) {
		return Open(cfg.Path, cfg.Collection)
	})
}

// Store is safe for concurrent use. Every successful write is persisted
// before it becomes visible to readers.
type Store struct {
	mu      sync.RWMutex
	records map[string]database.IdentityRecord
	index   *database.HNSWIndex

	recordsPath string
	graphPath   string
	now         func() time.Time
}

// Open loads the collection stored in dir, creating dir when needed.
func Open(dir, collection string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("hnsw store directory is required")
	}
	if collection == "" {
		collection = "identities"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &Store{
		records:     make(map[string]database.IdentityRecord),
		index:       database.NewHNSWIndex(),
		recordsPath: filepath.Join(dir, collection+".records"),
		graphPath:   filepath.Join(dir, collection+".hnsw"),
		now:         time.Now,
	}

	records, err := database.LoadRecordSnapshot(s.recordsPath)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		s.records[rec.RecordID] = rec
	}

	used, err := s.index.Load(s.graphPath, records)
	if err != nil {
		slog.Warn("hnsw graph unreadable, rebuilt from records", "path", s.graphPath, "error", err)
	}
	slog.Debug("hnsw store opened", "records", len(records), "graph_from_disk", used)
	return s, nil
}

// snapshotLocked returns all records sorted by RecordID.
func (s *Store) snapshotLocked(records map[string]database.IdentityRecord) []database.IdentityRecord {
	out := make([]database.IdentityRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out
}

// commitLocked persists next and swaps it in. On failure nothing changes.
func (s *Store) commitLocked(next map[string]database.IdentityRecord) error {
	if err := database.SaveRecordSnapshot(s.recordsPath, s.snapshotLocked(next)); err != nil {
		return database.Unavailable("persist records", err)
	}
	s.records = next
	return nil
}

func (s *Store) cloneLocked() map[string]database.IdentityRecord {
	next := make(map[string]database.IdentityRecord, len(s.records))
	for id, rec := range s.records {
		next[id] = rec
	}
	return next
}

func (s *Store) dimLocked() int {
	for _, rec := range s.records {
		return len(rec.Embedding)
	}
	return 0
}

// UpsertBatch inserts or replaces records by RecordID.
func (s *Store) UpsertBatch(_ context.Context, records []database.IdentityRecord) error {
	if err := database.ValidateBatch(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dim := s.dimLocked(); dim != 0 && dim != len(records[0].Embedding) {
		return fmt.Errorf("%w: dimension %d, store uses %d", database.ErrInvalidRecord, len(records[0].Embedding), dim)
	}

	next := s.cloneLocked()
	now := s.now()
	upserts := database.CloneRecords(records)
	for i := range upserts {
		if upserts[i].CreatedAt.IsZero() {
			upserts[i].CreatedAt = now
		}
		next[upserts[i].RecordID] = upserts[i]
	}

	if err := s.commitLocked(next); err != nil {
		return err
	}
	s.index.Apply(upserts, nil)
	return nil
}

// NearestNeighbors searches the HNSW graph.
func (s *Store) NearestNeighbors(_ context.Context, query []float32, k int) ([]database.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := s.index.Search(query, k)
	neighbors := make([]database.Neighbor, 0, len(hits))
	for _, hit := range hits {
		rec, ok := s.records[hit.ID]
		if !ok {
			continue
		}
		neighbors = append(neighbors, database.Neighbor{
			Record:     database.CloneRecords([]database.IdentityRecord{rec})[0],
			Similarity: hit.Similarity,
		})
	}
	return neighbors, nil
}

// FindByStaffID returns the records of staffID ordered by RecordID.
func (s *Store) FindByStaffID(_ context.Context, staffID string) ([]database.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []database.IdentityRecord
	for _, rec := range s.records {
		if rec.StaffID == staffID {
			found = append(found, rec)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].RecordID < found[j].RecordID })
	return database.CloneRecords(found), nil
}

// DeleteByStaffID removes the records of staffID.
func (s *Store) DeleteByStaffID(_ context.Context, staffID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, rec := range s.records {
		if rec.StaffID == staffID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	next := s.cloneLocked()
	for _, id := range ids {
		delete(next, id)
	}
	if err := s.commitLocked(next); err != nil {
		return 0, err
	}
	s.index.Apply(nil, ids)
	return len(ids), nil
}

// ListStaff returns all records sorted by staff ID.
func (s *Store) ListStaff(_ context.Context) ([]database.IdentityRecord, error) {
	s.mu.RLock()
	out := database.CloneRecords(s.snapshotLocked(s.records))
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

// Save exports the HNSW graph so the next Open can skip rebuilding it.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.index.Save(s.graphPath); err != nil {
		return database.Unavailable("save hnsw graph", err)
	}
	return nil
}

// Close saves the graph.
func (s *Store) Close() error {
	return s.Save()
}
