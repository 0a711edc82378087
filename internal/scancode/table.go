// Package scancode decodes raw keyboard scancode bytes into key transitions.
//
// The decoder is generic over a Table. A Table maps byte sequences to a
// logical key and direction, declares which bytes open an extended
// sequence, and bounds how long a pending sequence may grow. Set1 returns the
// IBM PC scancode set 1 dialect; LoadKeymap builds tables for other dialects
// from TOML, YAML or JSON files.
package scancode

import (
	"errors"
	"fmt"
	"slices"

	"kbtest/internal/keyboard"
)

// DefaultMaxSequenceLength bounds a pending sequence when no option says otherwise.
const DefaultMaxSequenceLength = 4

// Table construction errors. Each one is a violated configuration invariant.
var (
	ErrEmptyTable        = errors.New("scancode: table has no entries")
	ErrEmptySequence     = errors.New("scancode: empty byte sequence")
	ErrSequenceTooLong   = errors.New("scancode: sequence exceeds max sequence length")
	ErrConflictingEntry  = errors.New("scancode: sequence mapped twice")
	ErrAmbiguousSequence = errors.New("scancode: sequence is also a prefix of another sequence")
	ErrPrefixCollision   = errors.New("scancode: single-byte entry collides with an extended prefix byte")
	ErrInvalidMaxLength  = errors.New("scancode: max sequence length must be at least 1")
)

// Entry maps one byte sequence to a key transition.
type Entry struct {
	Sequence  []byte
	Key       keyboard.KeyID
	Direction keyboard.Direction
}

type encodeKey struct {
	key keyboard.KeyID
	dir keyboard.Direction
}

// Table is an immutable scancode dialect.
type Table struct {
	name        string
	maxLen      int
	prefixBytes []byte
	isPrefix    [256]bool

	order    []Entry
	entries  map[string]Entry
	encode   map[encodeKey][]byte
	prefixes map[string]bool
	ignored  map[string]bool
	ignore   [][]byte
	names    map[keyboard.KeyID]string
}

// TableOption configures a Table at construction.
type TableOption func(*tableOptions)

type tableOptions struct {
	maxLen      int
	prefixBytes []byte
	ignore      [][]byte
	names       map[keyboard.KeyID]string
}

// WithExtendedPrefixes declares the bytes that open an extended sequence.
func WithExtendedPrefixes(b ...byte) TableOption {
	return func(o *tableOptions) {
		o.prefixBytes = append([]byte(nil), b...)
	}
}

// WithMaxSequenceLength bounds the number of buffered bytes.
func WithMaxSequenceLength(n int) TableOption {
	return func(o *tableOptions) {
		o.maxLen = n
	}
}

// WithIgnored declares sequences the decoder consumes without output.
func WithIgnored(seqs ...[]byte) TableOption {
	return func(o *tableOptions) {
		for _, s := range seqs {
			o.ignore = append(o.ignore, slices.Clone(s))
		}
	}
}

// WithKeyNames attaches display names for keys, overriding the built-in names.
func WithKeyNames(names map[keyboard.KeyID]string) TableOption {
	return func(o *tableOptions) {
		if o.names == nil {
			o.names = make(map[keyboard.KeyID]string, len(names))
		}
		for k, v := range names {
			o.names[k] = v
		}
	}
}

// NewTable validates entries and builds a Table.
func NewTable(name string, entries []Entry, opts ...TableOption) (*Table, error) {
	o := tableOptions{maxLen: DefaultMaxSequenceLength}
	for _, opt := range opts {
		opt(&o)
	}

	if o.maxLen < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidMaxLength, o.maxLen)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("table %q: %w", name, ErrEmptyTable)
	}

	t := &Table{
		name:     name,
		maxLen:   o.maxLen,
		entries:  make(map[string]Entry, len(entries)),
		encode:   make(map[encodeKey][]byte),
		prefixes: make(map[string]bool),
		ignored:  make(map[string]bool),
		names:    o.names,
	}

	for _, b := range o.prefixBytes {
		if !t.isPrefix[b] {
			t.isPrefix[b] = true
			t.prefixBytes = append(t.prefixBytes, b)
		}
	}
	slices.Sort(t.prefixBytes)

	for _, e := range entries {
		if err := t.checkSequence(e.Sequence); err != nil {
			return nil, fmt.Errorf("table %q: key %s %s: %w", name, e.Key, e.Direction, err)
		}
		seq := string(e.Sequence)
		if prev, ok := t.entries[seq]; ok {
			if prev.Key == e.Key && prev.Direction == e.Direction {
				continue
			}
			return nil, fmt.Errorf("table %q: [%s] maps to both %s %s and %s %s: %w",
				name, keyboard.FormatSequence(e.Sequence), prev.Key, prev.Direction, e.Key, e.Direction, ErrConflictingEntry)
		}
		if len(e.Sequence) == 1 && t.isPrefix[e.Sequence[0]] {
			return nil, fmt.Errorf("table %q: [%s]: %w", name, keyboard.FormatSequence(e.Sequence), ErrPrefixCollision)
		}

		entry := Entry{Sequence: slices.Clone(e.Sequence), Key: e.Key, Direction: e.Direction}
		t.entries[seq] = entry
		t.order = append(t.order, entry)
		ek := encodeKey{key: e.Key, dir: e.Direction}
		if _, ok := t.encode[ek]; !ok {
			t.encode[ek] = entry.Sequence
		}
		t.addPrefixes(entry.Sequence)
	}

	for _, s := range o.ignore {
		if err := t.checkSequence(s); err != nil {
			return nil, fmt.Errorf("table %q: ignored sequence: %w", name, err)
		}
		if _, ok := t.entries[string(s)]; ok {
			return nil, fmt.Errorf("table %q: ignored [%s] is also mapped: %w", name, keyboard.FormatSequence(s), ErrConflictingEntry)
		}
		if !t.ignored[string(s)] {
			t.ignored[string(s)] = true
			t.ignore = append(t.ignore, slices.Clone(s))
			t.addPrefixes(s)
		}
	}

	// A complete sequence that is also a proper prefix could never be decoded
	// past its first match.
	for _, e := range t.order {
		if t.prefixes[string(e.Sequence)] {
			return nil, fmt.Errorf("table %q: [%s]: %w", name, keyboard.FormatSequence(e.Sequence), ErrAmbiguousSequence)
		}
	}
	for _, s := range t.ignore {
		if t.prefixes[string(s)] {
			return nil, fmt.Errorf("table %q: ignored [%s]: %w", name, keyboard.FormatSequence(s), ErrAmbiguousSequence)
		}
	}

	return t, nil
}

func (t *Table) checkSequence(seq []byte) error {
	if len(seq) == 0 {
		return ErrEmptySequence
	}
	if len(seq) > t.maxLen {
		return fmt.Errorf("[%s] has %d bytes, max %d: %w", keyboard.FormatSequence(seq), len(seq), t.maxLen, ErrSequenceTooLong)
	}
	return nil
}

func (t *Table) addPrefixes(seq []byte) {
	for i := 1; i < len(seq); i++ {
		t.prefixes[string(seq[:i])] = true
	}
}

// With rebuilds the table with additional options applied on top of the
// ones it was built with.
func (t *Table) With(opts ...TableOption) (*Table, error) {
	base := []TableOption{
		WithMaxSequenceLength(t.maxLen),
		WithExtendedPrefixes(t.prefixBytes...),
		WithIgnored(t.ignore...),
	}
	if t.names != nil {
		base = append(base, WithKeyNames(t.names))
	}
	return NewTable(t.name, t.order, append(base, opts...)...)
}

// Name returns the dialect name.
func (t *Table) Name() string { return t.name }

// MaxSequenceLength returns the bound on buffered bytes.
func (t *Table) MaxSequenceLength() int { return t.maxLen }

// Len returns the number of mapped sequences.
func (t *Table) Len() int { return len(t.order) }

// ExtendedPrefixes returns the declared extended prefix bytes in ascending order.
func (t *Table) ExtendedPrefixes() []byte {
	return slices.Clone(t.prefixBytes)
}

// IsExtendedPrefix reports whether b is a declared extended prefix byte.
func (t *Table) IsExtendedPrefix(b byte) bool {
	return t.isPrefix[b]
}

// Lookup returns the entry mapped to seq.
func (t *Table) Lookup(seq []byte) (Entry, bool) {
	e, ok := t.entries[string(seq)]
	return e, ok
}

// IsPrefix reports whether seq is a proper prefix of a mapped or ignored sequence.
func (t *Table) IsPrefix(seq []byte) bool {
	return t.prefixes[string(seq)]
}

// IsIgnored reports whether seq is consumed silently.
func (t *Table) IsIgnored(seq []byte) bool {
	return t.ignored[string(seq)]
}

// Ignored returns the ignored sequences in declaration order.
func (t *Table) Ignored() [][]byte {
	out := make([][]byte, len(t.ignore))
	for i, s := range t.ignore {
		out[i] = slices.Clone(s)
	}
	return out
}

// Encode returns the first declared sequence for a key transition.
func (t *Table) Encode(key keyboard.KeyID, dir keyboard.Direction) ([]byte, bool) {
	seq, ok := t.encode[encodeKey{key: key, dir: dir}]
	if !ok {
		return nil, false
	}
	return slices.Clone(seq), true
}

// Entries returns all entries in declaration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.order))
	for i, e := range t.order {
		out[i] = Entry{Sequence: slices.Clone(e.Sequence), Key: e.Key, Direction: e.Direction}
	}
	return out
}

// Keys returns the distinct key ids the table maps, in ascending order.
func (t *Table) Keys() []keyboard.KeyID {
	seen := make(map[keyboard.KeyID]bool)
	var keys []keyboard.KeyID
	for _, e := range t.order {
		if !seen[e.Key] {
			seen[e.Key] = true
			keys = append(keys, e.Key)
		}
	}
	slices.Sort(keys)
	return keys
}

// KeyName returns the table's display name for a key.
func (t *Table) KeyName(k keyboard.KeyID) string {
	if name, ok := t.names[k]; ok {
		return name
	}
	return k.String()
}
