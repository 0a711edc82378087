package scancode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"kbtest/internal/keyboard"
)

// ErrInvalidKeymap is returned for keymap files that cannot describe a table.
var ErrInvalidKeymap = errors.New("scancode: invalid keymap")

// Keymap is the file form of a Table. Byte values are integers so TOML and
// YAML files can write them in hex (0x1E).
type Keymap struct {
	Name                string      `toml:"name" json:"name" yaml:"name"`
	ExtendedPrefixBytes []int       `toml:"extended_prefix_bytes" json:"extended_prefix_bytes" yaml:"extended_prefix_bytes"`
	MaxSequenceLength   int         `toml:"max_sequence_length" json:"max_sequence_length" yaml:"max_sequence_length"`
	Ignore              [][]int     `toml:"ignore,omitempty" json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Keys                []KeymapKey `toml:"keys" json:"keys" yaml:"keys"`
}

// KeymapKey maps one key's make and break sequences. A missing Break is
// derived from Make by setting the high bit of its last byte. A zero ID is
// resolved from Name.
type KeymapKey struct {
	ID    int    `toml:"id" json:"id" yaml:"id"`
	Name  string `toml:"name,omitempty" json:"name,omitempty" yaml:"name,omitempty"`
	Make  []int  `toml:"make" json:"make" yaml:"make"`
	Break []int  `toml:"break,omitempty" json:"break,omitempty" yaml:"break,omitempty"`
}

// LoadKeymap reads a keymap file and builds its table. The format follows the
// file extension: .toml, .json, .yaml or .yml.
func LoadKeymap(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keymap: %w", err)
	}
	km, err := DecodeKeymap(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("keymap %s: %w", path, err)
	}
	if km.Name == "" {
		km.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return km.Table()
}

// DecodeKeymap parses keymap data in the format named by ext.
func DecodeKeymap(data []byte, ext string) (*Keymap, error) {
	var km Keymap
	switch strings.ToLower(ext) {
	case ".toml", "toml":
		if _, err := toml.Decode(string(data), &km); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json", "json":
		if err := json.Unmarshal(data, &km); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml", "yaml", "yml":
		if err := yaml.Unmarshal(data, &km); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidKeymap, ext)
	}
	return &km, nil
}

// Table validates the keymap and builds a Table from it.
func (km *Keymap) Table() (*Table, error) {
	prefixes, err := toBytes(km.ExtendedPrefixBytes)
	if err != nil {
		return nil, fmt.Errorf("extended_prefix_bytes: %w", err)
	}

	names := make(map[keyboard.KeyID]string)
	var entries []Entry
	for i, k := range km.Keys {
		id, err := k.resolveID()
		if err != nil {
			return nil, fmt.Errorf("keys[%d]: %w", i, err)
		}
		if k.Name != "" {
			names[id] = k.Name
		}
		mk, err := toBytes(k.Make)
		if err != nil {
			return nil, fmt.Errorf("keys[%d].make: %w", i, err)
		}
		brk := BreakOf(mk)
		if len(k.Break) > 0 {
			if brk, err = toBytes(k.Break); err != nil {
				return nil, fmt.Errorf("keys[%d].break: %w", i, err)
			}
		}
		entries = append(entries,
			Entry{Sequence: mk, Key: id, Direction: keyboard.Down},
			Entry{Sequence: brk, Key: id, Direction: keyboard.Up},
		)
	}

	opts := []TableOption{WithExtendedPrefixes(prefixes...), WithKeyNames(names)}
	if km.MaxSequenceLength != 0 {
		opts = append(opts, WithMaxSequenceLength(km.MaxSequenceLength))
	}
	for i, s := range km.Ignore {
		seq, err := toBytes(s)
		if err != nil {
			return nil, fmt.Errorf("ignore[%d]: %w", i, err)
		}
		opts = append(opts, WithIgnored(seq))
	}

	return NewTable(km.Name, entries, opts...)
}

func (k KeymapKey) resolveID() (keyboard.KeyID, error) {
	if k.ID > 0 && k.ID <= 0xFFFF {
		return keyboard.KeyID(k.ID), nil
	}
	if k.ID != 0 {
		return 0, fmt.Errorf("%w: key id %d out of range", ErrInvalidKeymap, k.ID)
	}
	if id, ok := keyboard.LookupKey(k.Name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: key %q has no id and no known name", ErrInvalidKeymap, k.Name)
}

func toBytes(vals []int) ([]byte, error) {
	out := make([]byte, len(vals))
	for i, v := range vals {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("%w: byte value %d out of range", ErrInvalidKeymap, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func toInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// KeymapOf converts a table back into its file form. Keys are listed in
// ascending id order with their first declared make and break sequences.
func KeymapOf(t *Table) *Keymap {
	km := &Keymap{
		Name:                t.Name(),
		ExtendedPrefixBytes: toInts(t.ExtendedPrefixes()),
		MaxSequenceLength:   t.MaxSequenceLength(),
	}
	for _, s := range t.Ignored() {
		km.Ignore = append(km.Ignore, toInts(s))
	}
	for _, id := range t.Keys() {
		k := KeymapKey{ID: int(id), Name: t.KeyName(id)}
		if mk, ok := t.Encode(id, keyboard.Down); ok {
			k.Make = toInts(mk)
		}
		if brk, ok := t.Encode(id, keyboard.Up); ok {
			k.Break = toInts(brk)
		}
		km.Keys = append(km.Keys, k)
	}
	return km
}

// Write encodes the keymap in the named format.
func (km *Keymap) Write(w io.Writer, format string) error {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "toml":
		return toml.NewEncoder(w).Encode(km)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(km)
	case "yaml", "yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(km); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidKeymap, format)
	}
}
