package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// EmbeddingDim is the fixed width of the embedding column.
const EmbeddingDim = 512

const recordColumns = "record_id, staff_id, name, embedding, source_file_name, created_at"

// IdentityRepository provides PostgreSQL-backed identity storage with an
// optional in-memory HNSW index.
type IdentityRepository struct {
	pool *Pool

	hnswIndex     *database.HNSWIndex
	hnswRecords   map[string]database.IdentityRecord
	hnswEnabled   bool
	hnswIndexPath string
	hnswMu        sync.RWMutex
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// UpsertBatch writes records in one transaction.
func (r *IdentityRepository) UpsertBatch(ctx context.Context, records []database.IdentityRecord) error {
	if err := database.ValidateBatch(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if len(records[0].Embedding) != EmbeddingDim {
		return fmt.Errorf("%w: dimension %d, column is vector(%d)",
			database.ErrInvalidRecord, len(records[0].Embedding), EmbeddingDim)
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return database.Unavailable("upsert", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	written := make([]database.IdentityRecord, 0, len(records))
	for i := range records {
		rec := records[i]
		err := tx.QueryRowContext(ctx, `
			INSERT INTO identity_records (record_id, staff_id, name, embedding, source_file_name)
			VALUES ($1, $2, $3, $4::vector, $5)
			ON CONFLICT (record_id) DO UPDATE SET
				staff_id = EXCLUDED.staff_id,
				name = EXCLUDED.name,
				embedding = EXCLUDED.embedding,
				source_file_name = EXCLUDED.source_file_name,
				created_at = NOW()
			RETURNING created_at
		`,
			rec.RecordID,
			rec.StaffID,
			rec.Name,
			pgvector.NewVector(rec.Embedding),
			rec.SourceFileName,
		).Scan(&rec.CreatedAt)
		if err != nil {
			return database.Unavailable("insert record "+rec.RecordID, err)
		}
		written = append(written, rec)
	}

	if err := tx.Commit(); err != nil {
		return database.Unavailable("commit upsert", err)
	}

	r.updateHNSW(written, nil)
	return nil
}

// DeleteByStaffID removes the records of staffID.
func (r *IdentityRepository) DeleteByStaffID(ctx context.Context, staffID string) (int, error) {
	rows, err := r.pool.Query(ctx, "DELETE FROM identity_records WHERE staff_id = $1 RETURNING record_id", staffID)
	if err != nil {
		return 0, database.Unavailable("delete records", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, database.Unavailable("scan deleted id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, database.Unavailable("iterate deleted ids", err)
	}

	r.updateHNSW(nil, ids)
	return len(ids), nil
}

// NearestNeighbors uses the in-memory HNSW index if enabled, otherwise pgvector.
func (r *IdentityRepository) NearestNeighbors(
	ctx context.Context, query []float32, k int,
) ([]database.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	r.hnswMu.RLock()
	hnswEnabled := r.hnswEnabled && r.hnswIndex != nil
	r.hnswMu.RUnlock()

	if hnswEnabled {
		return r.nearestHNSW(query, k), nil
	}
	return r.nearestPostgres(ctx, query, k)
}

func (r *IdentityRepository) nearestHNSW(query []float32, k int) []database.Neighbor {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	hits := r.hnswIndex.Search(query, k)
	neighbors := make([]database.Neighbor, 0, len(hits))
	for _, hit := range hits {
		rec, ok := r.hnswRecords[hit.ID]
		if !ok {
			continue
		}
		neighbors = append(neighbors, database.Neighbor{
			Record:     database.CloneRecords([]database.IdentityRecord{rec})[0],
			Similarity: hit.Similarity,
		})
	}
	return neighbors
}

func (r *IdentityRepository) nearestPostgres(
	ctx context.Context, query []float32, k int,
) ([]database.Neighbor, error) {
	if len(query) != EmbeddingDim {
		return nil, nil
	}

	// Use transaction to set ef_search for better recall (matching in-memory HNSW config).
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, database.Unavailable("nearest neighbors", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", database.HNSWEfSearch)); err != nil {
		return nil, database.Unavailable("set ef_search", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+recordColumns+`, 1 - (embedding <=> $1::vector) AS similarity
		FROM identity_records
		ORDER BY embedding <=> $1::vector, record_id
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, database.Unavailable("query similar records", err)
	}
	defer rows.Close()

	var neighbors []database.Neighbor
	for rows.Next() {
		var n database.Neighbor
		rec, err := scanRecord(rows, &n.Similarity)
		if err != nil {
			return nil, err
		}
		n.Record = rec
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate similar records", err)
	}
	return neighbors, nil
}

// FindByStaffID returns the records of staffID.
func (r *IdentityRepository) FindByStaffID(ctx context.Context, staffID string) ([]database.IdentityRecord, error) {
	return r.queryRecords(ctx, "SELECT "+recordColumns+" FROM identity_records WHERE staff_id = $1 ORDER BY record_id", staffID)
}

// ListStaff returns all records sorted by staff ID.
func (r *IdentityRepository) ListStaff(ctx context.Context) ([]database.IdentityRecord, error) {
	return r.queryRecords(ctx, "SELECT "+recordColumns+" FROM identity_records ORDER BY staff_id, record_id")
}

// Count returns the total number of records stored.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identity_records").Scan(&count); err != nil {
		return 0, database.Unavailable("count records", err)
	}
	return count, nil
}

// Close saves the HNSW index if one is configured and closes the pool.
func (r *IdentityRepository) Close() error {
	if err := r.Save(); err != nil {
		slog.Warn("failed to save HNSW index", "error", err)
	}
	return r.pool.Close()
}

func (r *IdentityRepository) queryRecords(ctx context.Context, query string, args ...any) ([]database.IdentityRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, database.Unavailable("query records", err)
	}
	defer rows.Close()

	var records []database.IdentityRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate records", err)
	}
	return records, nil
}

// scanRecord scans the standard record columns followed by extraDest.
func scanRecord(scanner interface{ Scan(...any) error }, extraDest ...any) (database.IdentityRecord, error) {
	var rec database.IdentityRecord
	var vec pgvector.Vector

	dest := []any{&rec.RecordID, &rec.StaffID, &rec.Name, &vec, &rec.SourceFileName, &rec.CreatedAt}
	dest = append(dest, extraDest...)
	if err := scanner.Scan(dest...); err != nil {
		return rec, database.Unavailable("scan record", err)
	}
	rec.Embedding = vec.Slice()
	return rec, nil
}
