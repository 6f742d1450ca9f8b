package sqlstore

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	driver string
	schema []string
	upsert string
}

const columns = "record_id, staff_id, name, embedding, dim, source_file_name, created_at"

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS identity_records (
			record_id TEXT PRIMARY KEY,
			staff_id TEXT NOT NULL,
			name TEXT NOT NULL,
			embedding BLOB NOT NULL,
			dim INTEGER NOT NULL,
			source_file_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identity_records_staff ON identity_records(staff_id)`,
	},
	upsert: `INSERT INTO identity_records (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			staff_id = excluded.staff_id,
			name = excluded.name,
			embedding = excluded.embedding,
			dim = excluded.dim,
			source_file_name = excluded.source_file_name,
			created_at = excluded.created_at`,
}

var mysqlDialect = dialect{
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS identity_records (
			record_id VARCHAR(64) NOT NULL PRIMARY KEY,
			staff_id VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			embedding BLOB NOT NULL,
			dim INT NOT NULL,
			source_file_name VARCHAR(1024) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			INDEX idx_identity_records_staff (staff_id)
		) CHARACTER SET utf8mb4`,
	},
	upsert: `INSERT INTO identity_records (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			staff_id = VALUES(staff_id),
			name = VALUES(name),
			embedding = VALUES(embedding),
			dim = VALUES(dim),
			source_file_name = VALUES(source_file_name),
			created_at = VALUES(created_at)`,
}

// sqliteDSN turns a file path into a DSN with a busy timeout.
func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// mysqlDSN validates dsn and enables the options the store relies on.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}
