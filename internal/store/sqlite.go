package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"kbtest/internal/keyboard"
	"kbtest/internal/layout"
	"kbtest/internal/report"
)

// DefaultBusyTimeout is how long a writer waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

var (
	// ErrExists is returned when saving a session id that is already stored.
	ErrExists = errors.New("store: session already exists")

	// ErrNotFound is returned when an id prefix matches no session.
	ErrNotFound = errors.New("store: session not found")

	// ErrAmbiguous is returned when an id prefix matches several sessions.
	ErrAmbiguous = errors.New("store: ambiguous session id")
)

// Store represents the SQLite session store.
type Store struct {
	db   *sql.DB
	path string
}

// Option configures Open.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
	noMigrate   bool
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithoutMigrations opens the database as found, for schema inspection and
// rollback. Session operations need the latest schema.
func WithoutMigrations() Option {
	return func(o *options) { o.noMigrate = true }
}

// Open opens or creates the SQLite database at the given path, migrates it
// to the latest schema and checks the result.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if !o.noMigrate {
		ctx := context.Background()
		if err := MigrateDB(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		if err := validateSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveReport stores a finished session with its key rows, anomaly log and
// event history. capture, when non-nil, is the raw byte stream the session
// decoded; only its BLAKE2b digest is kept.
func (s *Store) SaveReport(ctx context.Context, r *report.Report, capture []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var digest []byte
	if capture != nil {
		sum := CaptureDigest(capture)
		digest = sum[:]
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, table_name, layout, device, started_ns, ended_ns, bytes, transitions,
			pressed, released, repeated, last_pressed, capture_digest, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Table, r.Layout, r.Device, toNanos(r.StartedAt), toNanos(r.EndedAt), r.Stats.Bytes,
		r.Stats.Transitions, r.Stats.Pressed, r.Stats.Released, r.Stats.Repeated, r.Stats.LastPressed,
		digest, r.ExitReason,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s", ErrExists, r.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}

	keyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO key_stats (session_id, code, name, presses, repeats, state, stuck_reports)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare key stats: %w", err)
	}
	defer keyStmt.Close()
	for _, k := range r.Keys {
		if _, err := keyStmt.ExecContext(ctx, r.ID, k.Code, k.Name, k.Presses, k.Repeats, k.State, k.StuckReports); err != nil {
			return fmt.Errorf("insert key stats: %w", err)
		}
	}

	anomalyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomalies (session_id, ordinal, kind, code, key_name, timestamp_ns, detail, sequence, cycle, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare anomalies: %w", err)
	}
	defer anomalyStmt.Close()
	for i, a := range r.Anomalies {
		var code any
		if a.Code != nil {
			code = int64(*a.Code)
		}
		if _, err := anomalyStmt.ExecContext(ctx, r.ID, i, a.Kind, code, a.KeyName, toNanos(a.Timestamp),
			a.Detail, a.Sequence, a.Cycle, a.Severity); err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}

	eventStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO key_events (session_id, ordinal, code, key_name, kind, timestamp_ns, repeat_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare key events: %w", err)
	}
	defer eventStmt.Close()
	for i, ev := range r.Events {
		if _, err := eventStmt.ExecContext(ctx, r.ID, i, ev.Code, ev.KeyName, ev.Kind, toNanos(ev.Timestamp), ev.RepeatCount); err != nil {
			return fmt.Errorf("insert key event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const sessionColumns = `
	id, table_name, COALESCE(layout, ''), COALESCE(device, ''), started_ns, ended_ns, bytes, transitions,
	pressed, released, repeated, COALESCE(last_pressed, ''), capture_digest, COALESCE(exit_reason, ''),
	(SELECT COUNT(*) FROM anomalies a WHERE a.session_id = sessions.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var startedNs, endedNs int64
	if err := row.Scan(&sess.ID, &sess.Table, &sess.Layout, &sess.Device, &startedNs, &endedNs,
		&sess.Bytes, &sess.Transitions, &sess.Pressed, &sess.Released, &sess.Repeated,
		&sess.LastPressed, &sess.CaptureDigest, &sess.ExitReason, &sess.Anomalies); err != nil {
		return nil, err
	}
	sess.StartedAt = fromNanos(startedNs)
	sess.EndedAt = fromNanos(endedNs)
	return &sess, nil
}

// GetSession retrieves a session summary by id. It returns nil, nil when
// the session does not exist.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the most recent sessions first. A limit of zero or
// less returns every session.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_ns DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ResolveID expands a unique id prefix to the full session id.
func (s *Store) ResolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrNotFound
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`, escaped+"%")
	if err != nil {
		return "", fmt.Errorf("resolve session id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate session ids: %w", err)
	}

	switch {
	case len(ids) == 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case len(ids) > 1 && ids[0] != prefix:
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
	}
	return ids[0], nil
}

// ListAnomalies returns a session's anomaly log in order.
func (s *Store) ListAnomalies(ctx context.Context, id string, filter AnomalyFilter) ([]report.AnomalyRow, error) {
	query := `
		SELECT kind, code, COALESCE(key_name, ''), timestamp_ns, detail, COALESCE(sequence, ''), cycle, severity
		FROM anomalies WHERE session_id = ?`
	args := []any{id}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	query += ` ORDER BY ordinal ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := []report.AnomalyRow{}
	for rows.Next() {
		var a report.AnomalyRow
		var code sql.NullInt64
		var ts int64
		if err := rows.Scan(&a.Kind, &code, &a.KeyName, &ts, &a.Detail, &a.Sequence, &a.Cycle, &a.Severity); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		if code.Valid {
			c := uint16(code.Int64)
			a.Code = &c
		}
		a.Timestamp = fromNanos(ts)
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomalies: %w", err)
	}
	return anomalies, nil
}

// LoadReport rebuilds the report of a stored session. It returns nil, nil
// when the session does not exist.
func (s *Store) LoadReport(ctx context.Context, id string) (*report.Report, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}

	r := &report.Report{
		ID:         sess.ID,
		Table:      sess.Table,
		Layout:     sess.Layout,
		Device:     sess.Device,
		StartedAt:  sess.StartedAt,
		EndedAt:    sess.EndedAt,
		ExitReason: sess.ExitReason,
		Stats: report.Stats{
			Bytes:       sess.Bytes,
			Transitions: sess.Transitions,
			Pressed:     sess.Pressed,
			Released:    sess.Released,
			Repeated:    sess.Repeated,
			Anomalies:   make(map[string]int),
			LastPressed: sess.LastPressed,
		},
	}
	if !sess.EndedAt.IsZero() {
		r.Stats.DurationMs = sess.Duration().Milliseconds()
	}

	if r.Keys, err = s.keyRows(ctx, id); err != nil {
		return nil, err
	}
	if r.Anomalies, err = s.ListAnomalies(ctx, id, AnomalyFilter{}); err != nil {
		return nil, err
	}
	for _, a := range r.Anomalies {
		r.Stats.Anomalies[a.Kind]++
	}
	if r.Events, err = s.eventRows(ctx, id); err != nil {
		return nil, err
	}

	if sess.Layout != "" {
		l, err := layout.Lookup(sess.Layout)
		if err != nil {
			return nil, fmt.Errorf("load report %s: %w", id, err)
		}
		r.Coverage = report.CoverageFrom(l, pressesOf(r.Keys))
	}
	return r, nil
}

func (s *Store) keyRows(ctx context.Context, id string) ([]report.KeyRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, name, presses, repeats, state, stuck_reports
		FROM key_stats WHERE session_id = ? ORDER BY code ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query key stats: %w", err)
	}
	defer rows.Close()

	keys := []report.KeyRow{}
	for rows.Next() {
		var k report.KeyRow
		if err := rows.Scan(&k.Code, &k.Name, &k.Presses, &k.Repeats, &k.State, &k.StuckReports); err != nil {
			return nil, fmt.Errorf("scan key stats: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key stats: %w", err)
	}
	return keys, nil
}

func (s *Store) eventRows(ctx context.Context, id string) ([]report.EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, key_name, kind, timestamp_ns, repeat_count
		FROM key_events WHERE session_id = ? ORDER BY ordinal ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query key events: %w", err)
	}
	defer rows.Close()

	var events []report.EventRow
	for rows.Next() {
		var ev report.EventRow
		var ts int64
		if err := rows.Scan(&ev.Code, &ev.KeyName, &ev.Kind, &ts, &ev.RepeatCount); err != nil {
			return nil, fmt.Errorf("scan key event: %w", err)
		}
		ev.Timestamp = fromNanos(ts)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key events: %w", err)
	}
	return events, nil
}

// DeleteSession removes a session and everything recorded for it. It
// reports whether the session existed.
func (s *Store) DeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func pressesOf(keys []report.KeyRow) map[keyboard.KeyID]int {
	presses := make(map[keyboard.KeyID]int, len(keys))
	for _, k := range keys {
		presses[keyboard.KeyID(k.Code)] = k.Presses
	}
	return presses
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
