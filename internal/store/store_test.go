package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"kbtest/internal/layout"
	"kbtest/internal/report"
	"kbtest/internal/scancode"
	"kbtest/internal/session"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testReport runs a short session: A pressed and released, Up held past the
// stuck threshold, and one unmapped byte.
func testReport(t *testing.T, id string, start time.Time, l *layout.Layout) (*report.Report, []byte) {
	t.Helper()
	sess, err := session.New(session.DefaultConfig(), scancode.Set1(),
		session.WithClock(session.ClockFunc(func() time.Time { return start })))
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}

	capture := []byte{0x1E, 0x9E, 0xE0, 0x48, 0x55}
	sess.IngestAt(capture[:2], start.Add(100*time.Millisecond))
	sess.IngestAt(capture[2:4], start.Add(time.Second))
	sess.Tick(start.Add(4 * time.Second))
	sess.IngestAt(capture[4:], start.Add(5*time.Second))
	sess.End(start.Add(6 * time.Second))

	r := report.Build(id, sess, l)
	r.ExitReason = report.ExitEOF
	r.Device = "/dev/input/event3"
	return r, capture
}

func TestOpenAndClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := Open(dbPath, WithBusyTimeout(time.Second))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if s.Path() != dbPath {
		t.Errorf("Path = %q, want %q", s.Path(), dbPath)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestMigrations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	status, err := s.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus failed: %v", err)
	}
	if status.Current != LatestVersion() || status.Latest != LatestVersion() {
		t.Errorf("status = %d/%d, want %d/%d", status.Current, status.Latest, LatestVersion(), LatestVersion())
	}
	if !status.UpToDate() || status.Problem != "" {
		t.Errorf("expected up to date schema, got pending=%d problem=%q", len(status.Pending), status.Problem)
	}
	if len(status.Applied) != len(migrations) {
		t.Errorf("Applied = %d, want %d", len(status.Applied), len(migrations))
	}

	// Migrating again is a no-op
	if err := MigrateDB(ctx, s.DB()); err != nil {
		t.Fatalf("second MigrateDB failed: %v", err)
	}

	reverted, err := s.Rollback(ctx, LatestVersion()-1)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if len(reverted) != 1 || reverted[0] != LatestVersion() {
		t.Errorf("reverted = %v, want [%d]", reverted, LatestVersion())
	}
	status, err = s.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus failed: %v", err)
	}
	if status.Current != LatestVersion()-1 {
		t.Errorf("Current after rollback = %d, want %d", status.Current, LatestVersion()-1)
	}
	if len(status.Pending) != 1 {
		t.Errorf("expected 1 pending migration, got %d", len(status.Pending))
	}

	if _, err := s.Rollback(ctx, LatestVersion()); !errors.Is(err, ErrNoMigrations) {
		t.Errorf("Rollback above current: err = %v, want ErrNoMigrations", err)
	}
	if _, err := s.Rollback(ctx, -1); err == nil {
		t.Error("Rollback to a negative version should fail")
	}

	if err := MigrateDB(ctx, s.DB()); err != nil {
		t.Fatalf("re-apply failed: %v", err)
	}
	if err := validateSchema(ctx, s.DB()); err != nil {
		t.Errorf("validateSchema after re-apply: %v", err)
	}
}

func TestOpenWithoutMigrationsReportsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := s.Rollback(ctx, 0); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	s.Close()

	raw, err := Open(path, WithoutMigrations())
	if err != nil {
		t.Fatalf("Open without migrations failed: %v", err)
	}
	status, err := raw.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus failed: %v", err)
	}
	raw.Close()
	if status.Current != 0 || len(status.Pending) != len(migrations) {
		t.Errorf("status = current %d pending %d, want 0 and %d", status.Current, len(status.Pending), len(migrations))
	}

	// A normal open brings the database back to the latest version.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	r, capture := testReport(t, "after-rollback", t0, nil)
	if err := s.SaveReport(ctx, r, capture); err != nil {
		t.Fatalf("SaveReport after migration failed: %v", err)
	}
}

func TestOpenRejectsIncompatibleSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foreign.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	// Another program replaced key_events with an incompatible table.
	if _, err := s.DB().ExecContext(ctx, `DROP TABLE key_events; CREATE TABLE key_events (id INTEGER)`); err != nil {
		t.Fatalf("replace table: %v", err)
	}
	s.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchema) {
		t.Fatalf("Open: err = %v, want ErrSchema", err)
	}

	raw, err := Open(path, WithoutMigrations())
	if err != nil {
		t.Fatalf("Open without migrations failed: %v", err)
	}
	defer raw.Close()
	status, err := raw.SchemaStatus(ctx)
	if err != nil {
		t.Fatalf("SchemaStatus failed: %v", err)
	}
	if status.Problem == "" {
		t.Error("expected SchemaStatus to report the missing columns")
	}
}

func TestSaveAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r, capture := testReport(t, "session-1", t0, nil)

	if err := s.SaveReport(ctx, r, capture); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	got, err := s.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil")
	}

	if got.Table != "set1" {
		t.Errorf("Table = %q, want set1", got.Table)
	}
	if !got.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, t0)
	}
	if got.Duration() != 6*time.Second {
		t.Errorf("Duration = %v, want 6s", got.Duration())
	}
	if got.Bytes != 5 || got.Pressed != 2 || got.Released != 1 {
		t.Errorf("counters = %d/%d/%d, want 5/2/1", got.Bytes, got.Pressed, got.Released)
	}
	if got.Anomalies != 2 {
		t.Errorf("Anomalies = %d, want 2", got.Anomalies)
	}
	if got.LastPressed != "Up" {
		t.Errorf("LastPressed = %q, want Up", got.LastPressed)
	}
	if got.ExitReason != report.ExitEOF {
		t.Errorf("ExitReason = %q", got.ExitReason)
	}
	if got.Device != "/dev/input/event3" {
		t.Errorf("Device = %q", got.Device)
	}
	if len(got.CaptureDigest) != 32 {
		t.Errorf("CaptureDigest length = %d, want 32", len(got.CaptureDigest))
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetSession(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing session")
	}

	r, err := s.LoadReport(context.Background(), "missing")
	if err != nil || r != nil {
		t.Errorf("LoadReport = %v, %v; want nil, nil", r, err)
	}
}

func TestSaveDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r, capture := testReport(t, "dup", t0, nil)

	if err := s.SaveReport(ctx, r, capture); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	err := s.SaveReport(ctx, r, capture)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("second SaveReport error = %v, want ErrExists", err)
	}
}

func TestListSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"first", "second", "third"} {
		r, _ := testReport(t, id, t0.Add(time.Duration(i)*time.Hour), nil)
		if err := s.SaveReport(ctx, r, nil); err != nil {
			t.Fatalf("SaveReport(%s) failed: %v", id, err)
		}
	}

	all, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	if all[0].ID != "third" || all[2].ID != "first" {
		t.Errorf("order = %s, %s, %s; want newest first", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[0].CaptureDigest != nil {
		t.Error("expected no digest for a session saved without capture")
	}

	limited, err := s.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(limited))
	}
}

func TestListAnomalies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r, capture := testReport(t, "anoms", t0, nil)
	if err := s.SaveReport(ctx, r, capture); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	all, err := s.ListAnomalies(ctx, "anoms", AnomalyFilter{})
	if err != nil {
		t.Fatalf("ListAnomalies failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 anomalies, got %d", len(all))
	}
	if all[0].Kind != "stuck_key" || all[1].Kind != "unknown_scancode" {
		t.Errorf("kinds = %s, %s", all[0].Kind, all[1].Kind)
	}
	if all[0].Code == nil || *all[0].Code != 103 {
		t.Errorf("stuck key code = %v, want 103", all[0].Code)
	}
	if all[1].Code != nil {
		t.Errorf("unknown scancode should have no key, got %d", *all[1].Code)
	}
	if all[1].Sequence != "55" {
		t.Errorf("Sequence = %q, want 55", all[1].Sequence)
	}

	stuck, err := s.ListAnomalies(ctx, "anoms", AnomalyFilter{Kind: "stuck_key"})
	if err != nil {
		t.Fatalf("ListAnomalies failed: %v", err)
	}
	if len(stuck) != 1 {
		t.Errorf("expected 1 stuck_key anomaly, got %d", len(stuck))
	}

	limited, err := s.ListAnomalies(ctx, "anoms", AnomalyFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListAnomalies failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 anomaly, got %d", len(limited))
	}
}

func TestLoadReportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	l, err := layout.Lookup("tkl")
	if err != nil {
		t.Fatalf("layout.Lookup failed: %v", err)
	}
	want, capture := testReport(t, "roundtrip", t0, l)

	if err := s.SaveReport(ctx, want, capture); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	got, err := s.LoadReport(ctx, "roundtrip")
	if err != nil {
		t.Fatalf("LoadReport failed: %v", err)
	}

	if got.Stats.DurationMs != want.Stats.DurationMs {
		t.Errorf("DurationMs = %d, want %d", got.Stats.DurationMs, want.Stats.DurationMs)
	}
	if len(got.Stats.Anomalies) != len(want.Stats.Anomalies) {
		t.Errorf("anomaly kinds = %v, want %v", got.Stats.Anomalies, want.Stats.Anomalies)
	}
	if len(got.Keys) != len(want.Keys) {
		t.Fatalf("keys = %d, want %d", len(got.Keys), len(want.Keys))
	}
	for i := range want.Keys {
		if got.Keys[i] != want.Keys[i] {
			t.Errorf("key %d = %+v, want %+v", i, got.Keys[i], want.Keys[i])
		}
	}
	if len(got.Events) != len(want.Events) {
		t.Errorf("events = %d, want %d", len(got.Events), len(want.Events))
	}
	for i := range want.Anomalies {
		if !got.Anomalies[i].Timestamp.Equal(want.Anomalies[i].Timestamp) {
			t.Errorf("anomaly %d timestamp = %v, want %v", i, got.Anomalies[i].Timestamp, want.Anomalies[i].Timestamp)
		}
	}
	if got.Coverage == nil {
		t.Fatal("expected coverage for a session with a layout")
	}
	if len(got.Coverage.Tested) != len(want.Coverage.Tested) || got.Coverage.Total != want.Coverage.Total {
		t.Errorf("coverage = %+v, want %+v", got.Coverage, want.Coverage)
	}

	if err := got.Validate(); err != nil {
		t.Errorf("loaded report does not validate: %v", err)
	}
}

func TestResolveID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"abc-111", "abc-222", "def-333"} {
		r, _ := testReport(t, id, t0, nil)
		if err := s.SaveReport(ctx, r, nil); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	tests := []struct {
		prefix string
		want   string
		err    error
	}{
		{"def", "def-333", nil},
		{"abc-2", "abc-222", nil},
		{"abc-111", "abc-111", nil},
		{"abc", "", ErrAmbiguous},
		{"xyz", "", ErrNotFound},
		{"", "", ErrNotFound},
		{"%", "", ErrNotFound},
	}

	for _, tt := range tests {
		got, err := s.ResolveID(ctx, tt.prefix)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("ResolveID(%q) error = %v, want %v", tt.prefix, err, tt.err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveID(%q) failed: %v", tt.prefix, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveID(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r, capture := testReport(t, "gone", t0, nil)
	if err := s.SaveReport(ctx, r, capture); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	deleted, err := s.DeleteSession(ctx, "gone")
	if err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if !deleted {
		t.Error("expected DeleteSession to report a deletion")
	}

	for _, table := range []string{"key_stats", "anomalies", "key_events"} {
		var n int
		if err := s.DB().QueryRow("SELECT COUNT(*) FROM "+table+" WHERE session_id = ?", "gone").Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s still has %d rows", table, n)
		}
	}

	deleted, err = s.DeleteSession(ctx, "gone")
	if err != nil {
		t.Fatalf("second DeleteSession failed: %v", err)
	}
	if deleted {
		t.Error("expected no deletion for a missing session")
	}
}

func TestVerifyCapture(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r, capture := testReport(t, "digest", t0, nil)
	if err := s.SaveReport(ctx, r, capture); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	if err := s.VerifyCapture(ctx, "digest", capture); err != nil {
		t.Errorf("VerifyCapture failed: %v", err)
	}

	tampered := append([]byte(nil), capture...)
	tampered[0] ^= 0x80
	if err := s.VerifyCapture(ctx, "digest", tampered); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("VerifyCapture(tampered) = %v, want ErrDigestMismatch", err)
	}

	if err := s.VerifyCapture(ctx, "missing", capture); !errors.Is(err, ErrNotFound) {
		t.Errorf("VerifyCapture(missing) = %v, want ErrNotFound", err)
	}

	r2, _ := testReport(t, "nodigest", t0, nil)
	if err := s.SaveReport(ctx, r2, nil); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if err := s.VerifyCapture(ctx, "nodigest", capture); !errors.Is(err, ErrNoDigest) {
		t.Errorf("VerifyCapture(nodigest) = %v, want ErrNoDigest", err)
	}
}

func TestCaptureDigestDeterministic(t *testing.T) {
	a := CaptureDigest([]byte{0x1E, 0x9E})
	b := CaptureDigest([]byte{0x1E, 0x9E})
	c := CaptureDigest([]byte{0x9E, 0x1E})
	if a != b {
		t.Error("digest of equal input differs")
	}
	if a == c {
		t.Error("digest ignores byte order")
	}
}
