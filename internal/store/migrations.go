package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Migration is one step of the session database schema.
type Migration struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	Up          string `json:"-"`
	Down        string `json:"-"`
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with sessions, key stats, anomalies and key events",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add layout and device columns to sessions",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

// Migration SQL statements

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    table_name      TEXT NOT NULL,
    started_ns      INTEGER NOT NULL,
    ended_ns        INTEGER NOT NULL,
    bytes           INTEGER NOT NULL,
    transitions     INTEGER NOT NULL,
    pressed         INTEGER NOT NULL,
    released        INTEGER NOT NULL,
    repeated        INTEGER NOT NULL,
    last_pressed    TEXT,
    capture_digest  BLOB,
    exit_reason     TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_ns);

CREATE TABLE IF NOT EXISTS key_stats (
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    code            INTEGER NOT NULL,
    name            TEXT NOT NULL,
    presses         INTEGER NOT NULL,
    repeats         INTEGER NOT NULL,
    state           TEXT NOT NULL,
    stuck_reports   INTEGER NOT NULL,
    PRIMARY KEY (session_id, code)
);

CREATE TABLE IF NOT EXISTS anomalies (
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    ordinal         INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    code            INTEGER,
    key_name        TEXT,
    timestamp_ns    INTEGER NOT NULL,
    detail          TEXT NOT NULL,
    sequence        TEXT,
    cycle           INTEGER NOT NULL,
    severity        TEXT NOT NULL,
    PRIMARY KEY (session_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_anomalies_kind ON anomalies(kind);

CREATE TABLE IF NOT EXISTS key_events (
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    ordinal         INTEGER NOT NULL,
    code            INTEGER NOT NULL,
    key_name        TEXT NOT NULL,
    kind            TEXT NOT NULL,
    timestamp_ns    INTEGER NOT NULL,
    repeat_count    INTEGER NOT NULL,
    PRIMARY KEY (session_id, ordinal)
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS key_events;
DROP INDEX IF EXISTS idx_anomalies_kind;
DROP TABLE IF EXISTS anomalies;
DROP TABLE IF EXISTS key_stats;
DROP INDEX IF EXISTS idx_sessions_started;
DROP TABLE IF EXISTS sessions;
`

const migrationV2Up = `
ALTER TABLE sessions ADD COLUMN layout TEXT;
ALTER TABLE sessions ADD COLUMN device TEXT;
`

const migrationV2Down = `
ALTER TABLE sessions DROP COLUMN device;
ALTER TABLE sessions DROP COLUMN layout;
`

var (
	// ErrNoMigrations is returned when a rollback target is not below the
	// current schema version.
	ErrNoMigrations = errors.New("store: no migrations to roll back")

	// ErrSchema is returned when the database lacks a table or column the
	// session store reads or writes.
	ErrSchema = errors.New("store: schema mismatch")
)

// requiredColumns lists, per table, the columns the store depends on at the
// latest schema version.
var requiredColumns = map[string][]string{
	"sessions": {"id", "table_name", "started_ns", "ended_ns", "bytes", "pressed",
		"capture_digest", "exit_reason", "layout", "device"},
	"key_stats":  {"session_id", "code", "name", "presses", "state", "stuck_reports"},
	"anomalies":  {"session_id", "ordinal", "kind", "timestamp_ns", "detail", "cycle", "severity"},
	"key_events": {"session_id", "ordinal", "code", "kind", "timestamp_ns", "repeat_count"},
}

// LatestVersion is the schema version this build migrates to.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// MigrateDB applies all pending migrations to the database.
func MigrateDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	version, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UnixNano(), m.Description)
			if err != nil {
				return fmt.Errorf("record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func hasTable(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	ok, err := hasTable(ctx, db, "schema_migrations")
	if err != nil || !ok {
		return 0, err
	}
	var v int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}

// validateSchema checks that every table and column in requiredColumns
// exists.
func validateSchema(ctx context.Context, db *sql.DB) error {
	tables := make([]string, 0, len(requiredColumns))
	for t := range requiredColumns {
		tables = append(tables, t)
	}
	slices.Sort(tables)

	for _, table := range tables {
		rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		have := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("inspect table %s: %w", table, err)
			}
			have[name] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}

		if len(have) == 0 {
			return fmt.Errorf("%w: missing table %s", ErrSchema, table)
		}
		var missing []string
		for _, col := range requiredColumns[table] {
			if !have[col] {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: table %s lacks %s", ErrSchema, table, strings.Join(missing, ", "))
		}
	}
	return nil
}

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Version     int       `json:"version"`
	AppliedAt   time.Time `json:"applied_at"`
	Description string    `json:"description"`
}

// SchemaStatus describes the database schema relative to this build.
type SchemaStatus struct {
	Current int                `json:"current"`
	Latest  int                `json:"latest"`
	Applied []AppliedMigration `json:"applied"`
	Pending []Migration        `json:"pending"`
	// Problem is the schema validation error at the current version, if any.
	Problem string `json:"problem,omitempty"`
}

// UpToDate reports whether no migration is pending.
func (st *SchemaStatus) UpToDate() bool {
	return len(st.Pending) == 0
}

// SchemaStatus reports applied and pending migrations. Open the store with
// WithoutMigrations to inspect a database written by an older build.
func (s *Store) SchemaStatus(ctx context.Context) (*SchemaStatus, error) {
	st := &SchemaStatus{Latest: LatestVersion()}

	ok, err := hasTable(ctx, s.db, "schema_migrations")
	if err != nil {
		return nil, err
	}
	applied := make(map[int]bool)
	if ok {
		rows, err := s.db.QueryContext(ctx,
			"SELECT version, applied_at, COALESCE(description, '') FROM schema_migrations ORDER BY version")
		if err != nil {
			return nil, fmt.Errorf("list migrations: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var am AppliedMigration
			var at int64
			if err := rows.Scan(&am.Version, &at, &am.Description); err != nil {
				return nil, fmt.Errorf("scan migration: %w", err)
			}
			am.AppliedAt = time.Unix(0, at)
			st.Applied = append(st.Applied, am)
			applied[am.Version] = true
			st.Current = max(st.Current, am.Version)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("list migrations: %w", err)
		}
	}

	for _, m := range migrations {
		if !applied[m.Version] {
			st.Pending = append(st.Pending, m)
		}
	}
	if st.UpToDate() {
		if err := validateSchema(ctx, s.db); err != nil {
			st.Problem = err.Error()
		}
	}
	return st, nil
}

// Rollback reverts migrations newest first until the schema is at version
// to, and returns the reverted versions. Reverting version 1 drops every
// stored session.
func (s *Store) Rollback(ctx context.Context, to int) ([]int, error) {
	if to < 0 {
		return nil, fmt.Errorf("store: invalid rollback target %d", to)
	}
	current, err := currentVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if current <= to {
		return nil, fmt.Errorf("%w (schema at version %d)", ErrNoMigrations, current)
	}

	var reverted []int
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version > current || m.Version <= to {
			continue
		}
		err := inTx(ctx, s.db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return fmt.Errorf("roll back migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
				return fmt.Errorf("remove migration record %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return reverted, err
		}
		reverted = append(reverted, m.Version)
	}
	return reverted, nil
}
