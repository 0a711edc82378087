// Package tracker applies key transitions to per-key state and classifies
// them as pressed, released or repeated.
package tracker

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"kbtest/internal/keyboard"
)

// DefaultDebounce is the default bounce rejection window.
const DefaultDebounce = 5 * time.Millisecond

// ErrInvalidDebounce is returned for a negative debounce threshold.
var ErrInvalidDebounce = errors.New("tracker: debounce threshold must not be negative")

// Config holds tracker settings.
type Config struct {
	// Debounce is the minimum interval between two Down transitions of the
	// same key for the second one to count as an auto-repeat.
	Debounce time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{Debounce: DefaultDebounce}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Debounce < 0 {
		return fmt.Errorf("%w (got %s)", ErrInvalidDebounce, c.Debounce)
	}
	return nil
}

// Outcome is the result of applying one transition. Exactly one field is set.
type Outcome struct {
	Event     *keyboard.KeyEvent
	Rejection *keyboard.Anomaly
}

// Tracker owns the KeyState of every key seen in a session. It is not safe
// for concurrent use.
type Tracker struct {
	cfg    Config
	states map[keyboard.KeyID]*keyboard.KeyState
}

// New creates a tracker.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:    cfg,
		states: make(map[keyboard.KeyID]*keyboard.KeyState),
	}, nil
}

// Apply classifies a transition and updates the affected key's state.
// Rejected transitions leave the state untouched.
func (t *Tracker) Apply(tr keyboard.Transition) Outcome {
	st := t.state(tr.Key)
	ts := tr.Timestamp

	switch {
	case tr.Direction == keyboard.Down && st.Current == keyboard.Up:
		down := ts
		st.Current = keyboard.Down
		st.DownSince = &down
		st.RepeatCount = 0
		st.StuckReports = 0
		st.Presses++
		st.LastTransition = ts
		return t.emit(tr.Key, keyboard.Pressed, ts, 0)

	case tr.Direction == keyboard.Down:
		elapsed := ts.Sub(st.LastTransition)
		if elapsed < t.cfg.Debounce {
			a := keyboard.NewAnomaly(keyboard.BounceRejected, keyboard.KeyRef(tr.Key), ts,
				fmt.Sprintf("second down after %s, debounce %s", elapsed, t.cfg.Debounce))
			a.Sequence = tr.Sequence
			return Outcome{Rejection: &a}
		}
		st.RepeatCount++
		st.LastTransition = ts
		return t.emit(tr.Key, keyboard.Repeated, ts, st.RepeatCount)

	case st.Current == keyboard.Down:
		st.Current = keyboard.Up
		st.DownSince = nil
		st.StuckReports = 0
		st.LastTransition = ts
		return t.emit(tr.Key, keyboard.Released, ts, st.RepeatCount)

	default:
		a := keyboard.NewAnomaly(keyboard.OutOfOrder, keyboard.KeyRef(tr.Key), ts, "release while already up")
		a.Sequence = tr.Sequence
		return Outcome{Rejection: &a}
	}
}

func (t *Tracker) emit(key keyboard.KeyID, kind keyboard.EventKind, ts time.Time, repeats int) Outcome {
	return Outcome{Event: &keyboard.KeyEvent{Key: key, Kind: kind, Timestamp: ts, RepeatCount: repeats}}
}

// state returns the key's state, creating it as Up on first reference.
func (t *Tracker) state(key keyboard.KeyID) *keyboard.KeyState {
	st, ok := t.states[key]
	if !ok {
		st = &keyboard.KeyState{Key: key, Current: keyboard.Up}
		t.states[key] = st
	}
	return st
}

// State returns a copy of one key's state.
func (t *Tracker) State(key keyboard.KeyID) (keyboard.KeyState, bool) {
	st, ok := t.states[key]
	if !ok {
		return keyboard.KeyState{}, false
	}
	return st.Clone(), true
}

// Snapshot returns a deep copy of every key's state.
func (t *Tracker) Snapshot() map[keyboard.KeyID]keyboard.KeyState {
	out := make(map[keyboard.KeyID]keyboard.KeyState, len(t.states))
	for k, st := range t.states {
		out[k] = st.Clone()
	}
	return out
}

// HeldKeys returns the keys currently down in ascending order.
func (t *Tracker) HeldKeys() []keyboard.KeyID {
	var keys []keyboard.KeyID
	for k, st := range t.states {
		if st.Current == keyboard.Down {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// NoteStuck records how many stuck-key intervals have been reported for the
// current hold. It is a no-op for keys that are not down.
func (t *Tracker) NoteStuck(key keyboard.KeyID, reports int) {
	if st, ok := t.states[key]; ok && st.Current == keyboard.Down && reports > st.StuckReports {
		st.StuckReports = reports
	}
}

// Debounce returns the current debounce threshold.
func (t *Tracker) Debounce() time.Duration {
	return t.cfg.Debounce
}

// SetDebounce replaces the debounce threshold.
func (t *Tracker) SetDebounce(d time.Duration) error {
	cfg := Config{Debounce: d}
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.cfg = cfg
	return nil
}
