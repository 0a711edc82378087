// Package session orchestrates the diagnostic pipeline for one keyboard under
// test: bytes are decoded into transitions, transitions are classified by the
// tracker, and every fault ends up in a single append-only anomaly log.
//
// A Session is single-threaded. It holds no locks; callers that feed it from
// several goroutines must serialize access themselves.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"kbtest/internal/anomaly"
	"kbtest/internal/keyboard"
	"kbtest/internal/logging"
	"kbtest/internal/scancode"
	"kbtest/internal/tracker"
)

// DefaultExitPresses is how many consecutive presses of the exit key end an
// interactive session.
const DefaultExitPresses = 4

// ErrInvalidExitChord is returned for a negative exit press count.
var ErrInvalidExitChord = errors.New("session: exit presses must not be negative")

// Clock supplies the current time to a session.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Config holds the tunable thresholds of a session.
type Config struct {
	Debounce       time.Duration
	StuckThreshold time.Duration

	// ExitKey pressed ExitPresses times in a row requests the end of the
	// session. Zero presses disables the chord.
	ExitKey     keyboard.KeyID
	ExitPresses int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Debounce:       tracker.DefaultDebounce,
		StuckThreshold: anomaly.DefaultStuckThreshold,
		ExitKey:        keyboard.KeyLeftCtrl,
		ExitPresses:    DefaultExitPresses,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := (tracker.Config{Debounce: c.Debounce}).Validate(); err != nil {
		return err
	}
	if err := (anomaly.Config{StuckThreshold: c.StuckThreshold}).Validate(); err != nil {
		return err
	}
	if c.ExitPresses < 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidExitChord, c.ExitPresses)
	}
	return nil
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used by Ingest.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithEventHook registers a callback for every accepted key event.
func WithEventHook(fn func(keyboard.KeyEvent)) Option {
	return func(s *Session) { s.onEvent = append(s.onEvent, fn) }
}

// WithAnomalyHook registers a callback for every anomaly appended to the log.
func WithAnomalyHook(fn func(keyboard.Anomaly)) Option {
	return func(s *Session) { s.onAnomaly = append(s.onAnomaly, fn) }
}

// WithExitChord overrides the exit key and press count from Config.
func WithExitChord(key keyboard.KeyID, presses int) Option {
	return func(s *Session) {
		s.cfg.ExitKey = key
		s.cfg.ExitPresses = presses
	}
}

// WithRawLogger records every ingested chunk before it is decoded.
func WithRawLogger(r logging.RawLogger) Option {
	return func(s *Session) { s.raw = r }
}

// Stats summarizes a session.
type Stats struct {
	Bytes       int                          `json:"bytes"`
	Transitions int                          `json:"transitions"`
	Pressed     int                          `json:"pressed"`
	Released    int                          `json:"released"`
	Repeated    int                          `json:"repeated"`
	Anomalies   map[keyboard.AnomalyKind]int `json:"anomalies"`
	Presses     map[keyboard.KeyID]int       `json:"presses"`
	LastPressed *keyboard.KeyID              `json:"last_pressed,omitempty"`
	StartedAt   time.Time                    `json:"started_at"`
	EndedAt     time.Time                    `json:"ended_at"`
}

// AnomalyCount returns the total number of anomalies.
func (s Stats) AnomalyCount() int {
	n := 0
	for _, c := range s.Anomalies {
		n += c
	}
	return n
}

// Duration returns the session length, or zero while it is running.
func (s Stats) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Session owns the decoder, tracker and detector for one device under test.
type Session struct {
	cfg      Config
	table    *scancode.Table
	decoder  *scancode.Decoder
	tracker  *tracker.Tracker
	detector *anomaly.Detector

	clock     Clock
	logger    *slog.Logger
	raw       logging.RawLogger
	onEvent   []func(keyboard.KeyEvent)
	onAnomaly []func(keyboard.Anomaly)

	events    []keyboard.KeyEvent
	anomalies []keyboard.Anomaly
	stats     Stats
	last      time.Time

	exitCount     int
	exitRequested bool
	ended         bool
}

// New creates a session decoding with table.
func New(cfg Config, table *scancode.Table, opts ...Option) (*Session, error) {
	if table == nil || table.Len() == 0 {
		return nil, fmt.Errorf("session: %w", scancode.ErrEmptyTable)
	}

	s := &Session{
		cfg:    cfg,
		table:  table,
		clock:  SystemClock,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	trk, err := tracker.New(tracker.Config{Debounce: s.cfg.Debounce})
	if err != nil {
		return nil, err
	}
	det, err := anomaly.New(anomaly.Config{StuckThreshold: s.cfg.StuckThreshold})
	if err != nil {
		return nil, err
	}

	s.decoder = scancode.NewDecoder(table)
	s.tracker = trk
	s.detector = det
	s.stats = Stats{
		Anomalies: make(map[keyboard.AnomalyKind]int),
		Presses:   make(map[keyboard.KeyID]int),
		StartedAt: s.clock.Now(),
	}

	s.logger.Debug("session started",
		"table", table.Name(),
		"debounce", s.cfg.Debounce,
		"stuck_threshold", s.cfg.StuckThreshold,
		"exit_key", s.cfg.ExitKey,
		"exit_presses", s.cfg.ExitPresses)
	return s, nil
}

// Ingest feeds a chunk of bytes stamped with the session clock.
func (s *Session) Ingest(data []byte) ([]keyboard.KeyEvent, []keyboard.Anomaly) {
	return s.IngestAt(data, s.clock.Now())
}

// IngestAt feeds a chunk of bytes stamped with ts and returns the events and
// anomalies it produced, in input order.
func (s *Session) IngestAt(data []byte, ts time.Time) ([]keyboard.KeyEvent, []keyboard.Anomaly) {
	if s.ended {
		s.logger.Warn("input after session end dropped", "bytes", len(data))
		return nil, nil
	}
	ts = s.clamp(ts)
	if s.raw != nil {
		s.raw.Log(ts, data)
	}
	s.stats.Bytes += len(data)

	var events []keyboard.KeyEvent
	var anomalies []keyboard.Anomaly
	for _, b := range data {
		res := s.decoder.Feed(b, ts)
		switch {
		case res.Diagnostic != nil:
			a := s.detector.FromDiagnostic(*res.Diagnostic)
			s.recordAnomaly(a)
			anomalies = append(anomalies, a)

		case res.Transition != nil:
			s.stats.Transitions++
			out := s.tracker.Apply(*res.Transition)
			if out.Event != nil {
				s.recordEvent(*out.Event)
				events = append(events, *out.Event)
				continue
			}
			a := s.detector.Forward(*out.Rejection)
			s.recordAnomaly(a)
			anomalies = append(anomalies, a)
		}
	}
	return events, anomalies
}

// Tick runs the periodic stuck-key scan at now and returns the new anomalies.
func (s *Session) Tick(now time.Time) []keyboard.Anomaly {
	if s.ended {
		s.logger.Warn("tick after session end dropped")
		return nil
	}
	now = s.clamp(now)

	snap := s.tracker.Snapshot()
	batch := slices.Collect(s.detector.Scan(snap, now))
	for key, reports := range anomaly.StuckReports(batch, snap) {
		s.tracker.NoteStuck(key, reports)
	}
	for _, a := range batch {
		s.recordAnomaly(a)
	}
	return batch
}

// End finalizes the session. A partial sequence left in the decoder is
// reported as one MalformedSequence. Calling End again returns nil.
func (s *Session) End(now time.Time) []keyboard.Anomaly {
	if s.ended {
		return nil
	}
	now = s.clamp(now)

	var out []keyboard.Anomaly
	if diag := s.decoder.Flush(now); diag != nil {
		a := s.detector.FromDiagnostic(*diag)
		s.recordAnomaly(a)
		out = append(out, a)
	}
	s.ended = true
	s.stats.EndedAt = now

	s.logger.Info("session ended",
		"bytes", s.stats.Bytes,
		"events", len(s.events),
		"anomalies", len(s.anomalies),
		"duration", s.stats.Duration())
	return out
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	return s.ended
}

// ExitRequested reports whether the exit chord has been pressed.
func (s *Session) ExitRequested() bool {
	return s.exitRequested
}

// Reconfigure applies new thresholds to a running session.
func (s *Session) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.tracker.SetDebounce(cfg.Debounce); err != nil {
		return err
	}
	if err := s.detector.SetThreshold(cfg.StuckThreshold); err != nil {
		return err
	}
	if cfg.ExitKey != s.cfg.ExitKey || cfg.ExitPresses != s.cfg.ExitPresses {
		s.exitCount = 0
	}
	s.cfg = cfg

	s.logger.Info("session reconfigured",
		"debounce", cfg.Debounce,
		"stuck_threshold", cfg.StuckThreshold)
	return nil
}

// Config returns the active configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Table returns the scancode table in use.
func (s *Session) Table() *scancode.Table {
	return s.table
}

// Snapshot returns a copy of every tracked key state.
func (s *Session) Snapshot() map[keyboard.KeyID]keyboard.KeyState {
	return s.tracker.Snapshot()
}

// HeldKeys returns the keys currently down.
func (s *Session) HeldKeys() []keyboard.KeyID {
	return s.tracker.HeldKeys()
}

// Pending returns the bytes of an incomplete sequence awaiting more input.
func (s *Session) Pending() []byte {
	return s.decoder.Pending()
}

// Events returns a copy of the event history.
func (s *Session) Events() []keyboard.KeyEvent {
	return slices.Clone(s.events)
}

// Anomalies returns a copy of the anomaly log.
func (s *Session) Anomalies() []keyboard.Anomaly {
	return slices.Clone(s.anomalies)
}

// Stats returns a copy of the session statistics.
func (s *Session) Stats() Stats {
	st := s.stats
	st.Anomalies = maps.Clone(s.stats.Anomalies)
	st.Presses = maps.Clone(s.stats.Presses)
	if s.stats.LastPressed != nil {
		st.LastPressed = keyboard.KeyRef(*s.stats.LastPressed)
	}
	return st
}

// clamp keeps session time non-decreasing.
func (s *Session) clamp(ts time.Time) time.Time {
	if ts.Before(s.last) {
		return s.last
	}
	s.last = ts
	return ts
}

func (s *Session) recordEvent(ev keyboard.KeyEvent) {
	s.events = append(s.events, ev)

	switch ev.Kind {
	case keyboard.Pressed:
		s.stats.Pressed++
		s.stats.Presses[ev.Key]++
		s.stats.LastPressed = keyboard.KeyRef(ev.Key)
		s.trackExitChord(ev.Key)
	case keyboard.Released:
		s.stats.Released++
	case keyboard.Repeated:
		s.stats.Repeated++
	}

	s.logger.Debug("key event", "key", ev.Key, "kind", ev.Kind, "repeat", ev.RepeatCount)
	for _, fn := range s.onEvent {
		fn(ev)
	}
}

func (s *Session) recordAnomaly(a keyboard.Anomaly) {
	s.anomalies = append(s.anomalies, a)
	s.stats.Anomalies[a.Kind]++

	attrs := []any{"kind", a.Kind, "detail", a.Detail, "cycle", a.Cycle}
	if a.Key != nil {
		attrs = append(attrs, "key", *a.Key)
	}
	if len(a.Sequence) > 0 {
		attrs = append(attrs, "sequence", keyboard.FormatSequence(a.Sequence))
	}
	switch a.Severity {
	case keyboard.SeverityError:
		s.logger.Warn("anomaly", attrs...)
	default:
		s.logger.Info("anomaly", attrs...)
	}

	for _, fn := range s.onAnomaly {
		fn(a)
	}
}

func (s *Session) trackExitChord(key keyboard.KeyID) {
	if s.cfg.ExitPresses == 0 {
		return
	}
	if key != s.cfg.ExitKey {
		s.exitCount = 0
		return
	}
	s.exitCount++
	if s.exitCount >= s.cfg.ExitPresses && !s.exitRequested {
		s.exitRequested = true
		s.logger.Info("exit chord pressed", "key", key, "presses", s.exitCount)
	}
}
