package keyboard

import (
	"fmt"
	"time"
)

// AnomalyKind categorizes a hardware or driver fault observed in the stream.
type AnomalyKind int

const (
	StuckKey          AnomalyKind = iota // key held past the stuck threshold
	BounceRejected                       // repeated Down inside the debounce window
	MalformedSequence                    // prefix sequence that never resolved
	OutOfOrder                           // Up for a key that was already up
	UnknownScancode                      // byte or sequence missing from the table
)

// AnomalyKinds lists every kind in declaration order.
var AnomalyKinds = []AnomalyKind{StuckKey, BounceRejected, MalformedSequence, OutOfOrder, UnknownScancode}

// String returns the anomaly kind as a string.
func (k AnomalyKind) String() string {
	switch k {
	case StuckKey:
		return "stuck_key"
	case BounceRejected:
		return "bounce_rejected"
	case MalformedSequence:
		return "malformed_sequence"
	case OutOfOrder:
		return "out_of_order"
	case UnknownScancode:
		return "unknown_scancode"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k AnomalyKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *AnomalyKind) UnmarshalText(b []byte) error {
	for _, kind := range AnomalyKinds {
		if kind.String() == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown anomaly kind %q", string(b))
}

// Severity returns the default severity for the kind.
func (k AnomalyKind) Severity() Severity {
	switch k {
	case StuckKey:
		return SeverityWarning
	case MalformedSequence, UnknownScancode:
		return SeverityError
	default:
		return SeverityNotice
	}
}

// Severity indicates the importance level of an anomaly.
type Severity string

const (
	SeverityNotice  Severity = "notice"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Anomaly is one entry of a session's append-only anomaly log.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	Key       *KeyID      `json:"key,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail"`
	Sequence  []byte      `json:"sequence,omitempty"`
	Cycle     uint64      `json:"cycle"`
	Severity  Severity    `json:"severity"`
}

// NewAnomaly returns an anomaly of the given kind with its default severity.
func NewAnomaly(kind AnomalyKind, key *KeyID, ts time.Time, detail string) Anomaly {
	return Anomaly{
		Kind:      kind,
		Key:       key,
		Timestamp: ts,
		Detail:    detail,
		Severity:  kind.Severity(),
	}
}

// KeyRef returns a pointer to a copy of k, for the optional Anomaly.Key.
func KeyRef(k KeyID) *KeyID {
	return &k
}

// HasKey reports whether the anomaly refers to key k.
func (a Anomaly) HasKey(k KeyID) bool {
	return a.Key != nil && *a.Key == k
}

func (a Anomaly) String() string {
	if a.Key != nil {
		return fmt.Sprintf("%s(%s): %s", a.Kind, *a.Key, a.Detail)
	}
	return fmt.Sprintf("%s: %s", a.Kind, a.Detail)
}

// FormatSequence renders bytes as space-separated upper-case hex.
func FormatSequence(seq []byte) string {
	const hexdigits = "0123456789ABCDEF"
	buf := make([]byte, 0, len(seq)*3)
	for i, b := range seq {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, hexdigits[b>>4], hexdigits[b&0x0f])
	}
	return string(buf)
}
