// Package keyboard holds the records that flow through the diagnostic
// pipeline: key transitions, key events, per-key state and anomalies.
package keyboard

import (
	"fmt"
	"time"
)

// KeyID is a logical, hardware-independent key identifier. Values follow the
// Linux input keycode space (KEY_A = 30) so tables for any scancode dialect
// resolve to the same ids an evdev device reports.
type KeyID uint16

// String returns the key's name, or a numeric fallback for unnamed ids.
func (k KeyID) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KEY_%d", uint16(k))
}

// Direction is the physical direction of a key transition.
type Direction int

const (
	Up   Direction = iota // key released or never pressed
	Down                  // key pressed
)

// String returns the direction as a string.
func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "down", "make":
		*d = Down
	case "up", "break":
		*d = Up
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// Transition is a decoded key transition. It is never modified after the
// decoder produces it.
type Transition struct {
	Key       KeyID
	Direction Direction
	Extended  bool
	Sequence  []byte
	Timestamp time.Time
}

// EventKind classifies an accepted transition.
type EventKind int

const (
	Pressed EventKind = iota
	Released
	Repeated
)

// String returns the event kind as a string.
func (k EventKind) String() string {
	switch k {
	case Pressed:
		return "pressed"
	case Released:
		return "released"
	case Repeated:
		return "repeated"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	for _, kind := range []EventKind{Pressed, Released, Repeated} {
		if kind.String() == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", string(b))
}

// KeyEvent is a validated key event.
type KeyEvent struct {
	Key         KeyID     `json:"key"`
	Kind        EventKind `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	RepeatCount int       `json:"repeat_count,omitempty"`
}

func (e KeyEvent) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Key)
}

// KeyState is the tracked state of one key.
type KeyState struct {
	Key            KeyID      `json:"key"`
	Current        Direction  `json:"current"`
	LastTransition time.Time  `json:"last_transition"`
	RepeatCount    int        `json:"repeat_count"`
	DownSince      *time.Time `json:"down_since,omitempty"`

	// Presses counts Pressed events over the whole session.
	Presses int `json:"presses"`

	// StuckReports counts StuckKey anomalies raised for the current hold.
	StuckReports int `json:"stuck_reports,omitempty"`
}

// Held returns how long the key has been down at now, or zero if it is up.
func (s KeyState) Held(now time.Time) time.Duration {
	if s.Current != Down || s.DownSince == nil {
		return 0
	}
	return now.Sub(*s.DownSince)
}

// Clone returns a copy that shares no pointers with s.
func (s KeyState) Clone() KeyState {
	c := s
	if s.DownSince != nil {
		t := *s.DownSince
		c.DownSince = &t
	}
	return c
}
