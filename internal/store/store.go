package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Pre-idempotency generation (checkouts without idempotency_key)
// 1 - idempotency_key column + partial unique index present
const currentSchemaVersion = 1

// Store provides durable storage for the checkout log and its
// collaborators. Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db         *sql.DB
	caps       *capabilityState
	autoRepair bool
	now        func() time.Time
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithAutoRepair controls whether the store may issue DDL to add the
// idempotency_key column and indexes when it finds them missing.
// Disable in deployments where the application database user has no
// ALTER rights; lookups then fall back to the reference path until an
// operator runs the migrate command.
func WithAutoRepair(enabled bool) Option {
	return func(s *Store) { s.autoRepair = enabled }
}

// WithNow overrides the wall clock. Used by tests to pin created_at
// values and to step the capability cooldown.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the current schema idempotently; it does
// NOT force the idempotency migration onto a legacy database (that is
// the repair path's job), it only probes which generation is present.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:         db,
		caps:       newCapabilityState(),
		autoRepair: true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Probe which schema generation we are running against so the first
	// checkout does not have to discover it the hard way.
	hasKey, err := s.hasCheckoutColumn(context.Background(), colIdempotencyKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to probe schema generation: %w", err)
	}
	if !hasKey {
		s.caps.markKeyColumnMissing(s.now())
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and advances the
// schema version marker when the current generation is fully present.
// Idempotent; never issues ALTER.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	// The lead index lives outside schema.sql for the same reason as
	// the idempotency index: IF NOT EXISTS does not save a CREATE INDEX
	// from resolving an absent column on the oldest generation.
	hasLead, err := columnExists(db, "checkouts", colLeadID)
	if err != nil {
		return err
	}
	if hasLead {
		_, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_checkouts_lead ON checkouts(lead_id)")
		if err != nil {
			return fmt.Errorf("create lead index: %w", err)
		}
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < currentSchemaVersion {
		// Only stamp the version when the idempotency column actually
		// exists: a legacy table survives schema.sql untouched because
		// CREATE TABLE IF NOT EXISTS is a no-op on it.
		has, err := columnExists(db, "checkouts", colIdempotencyKey)
		if err != nil {
			return err
		}
		if has {
			// CREATE UNIQUE INDEX IF NOT EXISTS is safe - no-op when the
			// index exists. Partial so that rows written by
			// pre-idempotency deployments (NULL key) never collide.
			_, err := db.Exec(`
				CREATE UNIQUE INDEX IF NOT EXISTS idx_checkouts_idempotency_key
				ON checkouts(idempotency_key) WHERE idempotency_key IS NOT NULL
			`)
			if err != nil {
				return fmt.Errorf("create idempotency index: %w", err)
			}
			if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
				return fmt.Errorf("set user_version: %w", err)
			}
		}
	}

	return nil
}

// columnExists checks PRAGMA table_info for a named column.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &primaryKey); err != nil {
			return false, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *Store) hasCheckoutColumn(_ context.Context, column string) (bool, error) {
	return columnExists(s.db, "checkouts", column)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
