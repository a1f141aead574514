package persist

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 0 - fresh database, schema.sql not yet applied
// 1 - base tables plus the path index on pending_writes
const currentSchemaVersion = 1

// Store is the durable backing for one sync session: a write journal
// that outlives crashes and a cache of last-known server values.
type Store struct {
	db *sql.DB
}

// Open creates or opens the session database at path. Pragmas, schema,
// and migrations are applied on every open; reopening an existing
// database is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect session db: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// setup configures the connection and brings the schema up to date.
func (s *Store) setup() error {
	// WAL keeps reads concurrent with the single writer; NORMAL sync
	// trades a post-crash WAL replay for faster commits.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return s.migrate()
}

// migrate applies incremental migrations tracked via PRAGMA user_version.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	// Databases created before v1 lack the path index; schema.sql
	// carries it for new ones. IF NOT EXISTS makes the step a no-op
	// either way.
	if version < 1 {
		_, err := s.db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_pending_writes_path
			ON pending_writes(path)
		`)
		if err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma reports whether a pragma holds the expected value. Test
// helper.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
