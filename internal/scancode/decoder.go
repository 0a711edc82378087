package scancode

import (
	"fmt"
	"time"

	"kbtest/internal/keyboard"
)

// Diagnostic is a decode-level fault. Its Kind is MalformedSequence or
// UnknownScancode.
type Diagnostic struct {
	Kind      keyboard.AnomalyKind
	Sequence  []byte
	Timestamp time.Time
}

// Detail renders a human-readable description.
func (d Diagnostic) Detail() string {
	switch d.Kind {
	case keyboard.MalformedSequence:
		return fmt.Sprintf("incomplete sequence [%s]", keyboard.FormatSequence(d.Sequence))
	default:
		return fmt.Sprintf("unmapped scancode [%s]", keyboard.FormatSequence(d.Sequence))
	}
}

// Result is the outcome of feeding one byte. At most one field is set; both
// are nil while a sequence is pending or after an ignored sequence.
type Result struct {
	Transition *keyboard.Transition
	Diagnostic *Diagnostic
}

// Empty reports whether the byte produced no output.
func (r Result) Empty() bool {
	return r.Transition == nil && r.Diagnostic == nil
}

// Decoder assembles scancode bytes into transitions. It is not safe for
// concurrent use.
type Decoder struct {
	table *Table
	buf   []byte
}

// NewDecoder creates a decoder over table.
func NewDecoder(table *Table) *Decoder {
	return &Decoder{
		table: table,
		buf:   make([]byte, 0, table.MaxSequenceLength()),
	}
}

// Table returns the decoder's table.
func (d *Decoder) Table() *Table {
	return d.table
}

// Feed consumes one byte.
func (d *Decoder) Feed(b byte, ts time.Time) Result {
	cand := append(d.buf, b)
	seq := string(cand)

	if e, ok := d.table.entries[seq]; ok {
		tr := &keyboard.Transition{
			Key:       e.Key,
			Direction: e.Direction,
			Extended:  d.table.isPrefix[cand[0]],
			Sequence:  d.take(cand),
			Timestamp: ts,
		}
		return Result{Transition: tr}
	}

	switch {
	case d.table.ignored[seq]:
		d.buf = d.buf[:0]
		return Result{}

	case d.table.prefixes[seq] || d.allPrefixBytes(cand):
		if len(cand) >= d.table.maxLen {
			return Result{Diagnostic: d.diagnose(keyboard.MalformedSequence, cand, ts)}
		}
		d.buf = cand
		return Result{}

	case len(d.buf) > 0 && d.table.isPrefix[b]:
		// A new extended sequence started before the pending one resolved.
		pending := append([]byte(nil), d.buf...)
		d.buf = append(d.buf[:0], b)
		return Result{Diagnostic: &Diagnostic{Kind: keyboard.MalformedSequence, Sequence: pending, Timestamp: ts}}

	default:
		return Result{Diagnostic: d.diagnose(keyboard.UnknownScancode, cand, ts)}
	}
}

// Flush reports a pending partial sequence as malformed and clears it. It
// returns nil when nothing is pending.
func (d *Decoder) Flush(ts time.Time) *Diagnostic {
	if len(d.buf) == 0 {
		return nil
	}
	return d.diagnose(keyboard.MalformedSequence, d.buf, ts)
}

// Pending returns a copy of the buffered bytes.
func (d *Decoder) Pending() []byte {
	return append([]byte(nil), d.buf...)
}

// Reset discards any buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

func (d *Decoder) allPrefixBytes(seq []byte) bool {
	for _, b := range seq {
		if !d.table.isPrefix[b] {
			return false
		}
	}
	return true
}

// take copies seq out of the shared buffer and clears it.
func (d *Decoder) take(seq []byte) []byte {
	out := append([]byte(nil), seq...)
	d.buf = d.buf[:0]
	return out
}

func (d *Decoder) diagnose(kind keyboard.AnomalyKind, seq []byte, ts time.Time) *Diagnostic {
	return &Diagnostic{Kind: kind, Sequence: d.take(seq), Timestamp: ts}
}
