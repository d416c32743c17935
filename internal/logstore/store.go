package logstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/streamcore/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema
// 1 - Added index on records.record_key for key traces
// 2 - Added log_meta with the record format the log was written with
const currentSchemaVersion = 2

// ErrFormatMismatch is returned when a log was written with another record
// format than record.FormatVersion.
var ErrFormatMismatch = errors.New("record format mismatch")

// MemoryPath opens a private in-memory log. It lives as long as the Store.
const MemoryPath = ":memory:"

// Store is the record log of one partition.
//
// The engine is the only writer. Readers (CLI trace, replay verification)
// may open the same file concurrently thanks to WAL mode.
type Store struct {
	db *sql.DB
}

// Open creates or opens a log database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect log: %w", err)
	}

	// One connection: SQLite has a single writer, and ":memory:" databases
	// exist per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := checkFormat(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LastPosition returns the position of the last appended record, or 0 for
// an empty log.
func (s *Store) LastPosition(ctx context.Context) (int64, error) {
	var pos sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM records`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("last position: %w", err)
	}
	return pos.Int64, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_records_key ON records(record_key)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS log_meta (name TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO log_meta (name, value) VALUES ('record_format', ?)`, record.FormatVersion); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// checkFormat refuses logs whose values this build cannot decode.
func checkFormat(db *sql.DB) error {
	var format string
	if err := db.QueryRow(`SELECT value FROM log_meta WHERE name = 'record_format'`).Scan(&format); err != nil {
		return fmt.Errorf("read record format: %w", err)
	}
	if format != record.FormatVersion {
		return fmt.Errorf("%w: log has format %s, expected %s", ErrFormatMismatch, format, record.FormatVersion)
	}
	return nil
}

// schemaVersion returns the stored user_version. Used for testing.
func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}
