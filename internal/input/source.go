// Package input captures raw scancode bytes from a keyboard under test and
// discovers the keyboards attached to the machine.
package input

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupported is returned by capture sources the platform cannot provide.
var ErrUnsupported = errors.New("input: source not supported on this platform")

// Chunk is a batch of bytes read from a source at one instant.
type Chunk struct {
	Data []byte
	At   time.Time
}

// Source yields raw scancode bytes. Read blocks until bytes are available
// and returns io.EOF when the source is exhausted.
type Source interface {
	Read(ctx context.Context) (Chunk, error)
	Close() error
}

// EndReporter is implemented by replayed sources that know the capture time
// at which they ran out. The second result is false when no such time exists.
type EndReporter interface {
	End() (time.Time, bool)
}

// Format is the encoding of a capture file.
type Format int

const (
	FormatHex Format = iota // whitespace-separated hex bytes
	FormatBin               // raw bytes
)

// String returns the format name.
func (f Format) String() string {
	if f == FormatBin {
		return "bin"
	}
	return "hex"
}

// ParseFormat parses a capture format name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "hex", "":
		return FormatHex, nil
	case "bin", "binary", "raw":
		return FormatBin, nil
	default:
		return FormatHex, fmt.Errorf("input: unknown capture format %q (valid: hex, bin)", s)
	}
}
