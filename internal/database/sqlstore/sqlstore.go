// Package sqlstore keeps identity records in SQLite or MySQL/MariaDB.
// Embeddings are stored as blobs and scored exactly in Go, so no vector
// extension is required.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.Register("sqlite", func(ctx context.Context, cfg config.DatabaseConfig) (database.VectorStore, error) {
		path := cfg.URL
		if path == "" {
			path = filepath.Join(cfg.Path, collectionName(cfg.Collection)+".db")
		}
		return OpenSQLite(ctx, path)
	})
	database.Register("mysql", func(ctx context.Context, cfg config.DatabaseConfig) (database.VectorStore, error) {
		return OpenMySQL(ctx, cfg.URL, cfg.MaxOpenConns, cfg.MaxIdleConns)
	})
}

func collectionName(c string) string {
	if c == "" {
		return "identities"
	}
	return c
}

// Store is a VectorStore over database/sql.
type Store struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDialect.driver, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	return newStore(ctx, db, sqliteDialect)
}

// OpenMySQL connects to MySQL or MariaDB.
func OpenMySQL(ctx context.Context, dsn string, maxOpen, maxIdle int) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("MySQL DSN is required")
	}
	dsn, err := mysqlDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(mysqlDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 5
	}
	if maxIdle <= 0 {
		maxIdle = 2
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)

	return newStore(ctx, db, mysqlDialect)
}

func newStore(ctx context.Context, db *sql.DB, d dialect) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", d.driver, err)
	}

	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return &Store{db: db, d: d, now: time.Now}, nil
}

// UpsertBatch writes records in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, records []database.IdentityRecord) error {
	if err := database.ValidateBatch(records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return database.Unavailable("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var dim int
	err = tx.QueryRowContext(ctx, "SELECT dim FROM identity_records LIMIT 1").Scan(&dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return database.Unavailable("read dimension", err)
	case dim != len(records[0].Embedding):
		return fmt.Errorf("%w: dimension %d, store uses %d", database.ErrInvalidRecord, len(records[0].Embedding), dim)
	}

	stmt, err := tx.PrepareContext(ctx, s.d.upsert)
	if err != nil {
		return database.Unavailable("prepare upsert", err)
	}
	defer stmt.Close()

	now := s.now()
	for i := range records {
		rec := &records[i]
		created := rec.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err := stmt.ExecContext(ctx,
			rec.RecordID,
			rec.StaffID,
			rec.Name,
			encodeVector(rec.Embedding),
			len(rec.Embedding),
			rec.SourceFileName,
			created.UnixMicro(),
		)
		if err != nil {
			return database.Unavailable("upsert "+rec.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return database.Unavailable("commit transaction", err)
	}
	return nil
}

// NearestNeighbors loads every record and scores it.
func (s *Store) NearestNeighbors(ctx context.Context, query []float32, k int) ([]database.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}
	records, err := s.query(ctx, "SELECT "+columns+" FROM identity_records ORDER BY record_id")
	if err != nil {
		return nil, err
	}
	return database.RankExact(records, query, k), nil
}

// FindByStaffID returns the records of staffID.
func (s *Store) FindByStaffID(ctx context.Context, staffID string) ([]database.IdentityRecord, error) {
	return s.query(ctx, "SELECT "+columns+" FROM identity_records WHERE staff_id = ? ORDER BY record_id", staffID)
}

// ListStaff returns all records sorted by staff ID.
func (s *Store) ListStaff(ctx context.Context) ([]database.IdentityRecord, error) {
	return s.query(ctx, "SELECT "+columns+" FROM identity_records ORDER BY staff_id, record_id")
}

// DeleteByStaffID removes the records of staffID.
func (s *Store) DeleteByStaffID(ctx context.Context, staffID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM identity_records WHERE staff_id = ?", staffID)
	if err != nil {
		return 0, database.Unavailable("delete records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, database.Unavailable("delete records", err)
	}
	return int(n), nil
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identity_records").Scan(&count); err != nil {
		return 0, database.Unavailable("count records", err)
	}
	return count, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]database.IdentityRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Unavailable("query records", err)
	}
	defer rows.Close()

	var records []database.IdentityRecord
	for rows.Next() {
		var rec database.IdentityRecord
		var blob []byte
		var dim int
		var created int64
		if err := rows.Scan(&rec.RecordID, &rec.StaffID, &rec.Name, &blob, &dim, &rec.SourceFileName, &created); err != nil {
			return nil, database.Unavailable("scan record", err)
		}
		rec.Embedding, err = decodeVector(blob, dim)
		if err != nil {
			return nil, database.Unavailable("decode record "+rec.RecordID, err)
		}
		rec.CreatedAt = time.UnixMicro(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Unavailable("iterate records", err)
	}
	return records, nil
}
