package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// EnableHNSW loads or builds the in-memory HNSW index from the table.
// If indexPath is set, a graph saved there is reused when it still matches.
func (r *IdentityRepository) EnableHNSW(ctx context.Context, indexPath string) error {
	records, err := r.ListStaff(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	index := database.NewHNSWIndex()
	fromDisk := false
	if indexPath != "" {
		fromDisk, err = index.Load(indexPath, records)
		if err != nil {
			slog.Warn("identity index: failed to load, rebuilt", "path", indexPath, "error", err)
		}
	} else {
		index.Build(records)
	}

	byID := make(map[string]database.IdentityRecord, len(records))
	for _, rec := range records {
		byID[rec.RecordID] = rec
	}

	r.hnswMu.Lock()
	r.hnswIndex = index
	r.hnswRecords = byID
	r.hnswIndexPath = indexPath
	r.hnswEnabled = true
	r.hnswMu.Unlock()

	slog.Info("identity index enabled", "records", len(records), "from_disk", fromDisk)
	return nil
}

// DisableHNSW falls back to pgvector queries.
func (r *IdentityRepository) DisableHNSW() {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = false
	r.hnswIndex = nil
	r.hnswRecords = nil
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *IdentityRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// RebuildHNSW reloads the index from PostgreSQL.
func (r *IdentityRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	indexPath := r.hnswIndexPath
	r.hnswMu.RUnlock()
	return r.EnableHNSW(ctx, indexPath)
}

// Save writes the HNSW graph to disk when a path is configured.
func (r *IdentityRepository) Save() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if !r.hnswEnabled || r.hnswIndex == nil || r.hnswIndexPath == "" {
		return nil
	}
	if err := r.hnswIndex.Save(r.hnswIndexPath); err != nil {
		return fmt.Errorf("save identity index: %w", err)
	}
	return nil
}

// updateHNSW mirrors committed writes into the in-memory index.
func (r *IdentityRepository) updateHNSW(upserts []database.IdentityRecord, deleted []string) {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	if !r.hnswEnabled || r.hnswIndex == nil {
		return
	}
	for _, id := range deleted {
		delete(r.hnswRecords, id)
	}
	for _, rec := range database.CloneRecords(upserts) {
		r.hnswRecords[rec.RecordID] = rec
	}
	r.hnswIndex.Apply(upserts, deleted)
}
