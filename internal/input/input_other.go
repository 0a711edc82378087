//go:build !linux

package input

import (
	"context"
	"log/slog"

	"kbtest/internal/scancode"
)

// DefaultConsole is unused outside Linux.
const DefaultConsole = ""

// ConsoleSource is only available on Linux.
type ConsoleSource struct{}

// OpenConsole returns ErrUnsupported.
func OpenConsole(string) (*ConsoleSource, error) { return nil, ErrUnsupported }

// Read returns ErrUnsupported.
func (*ConsoleSource) Read(context.Context) (Chunk, error) { return Chunk{}, ErrUnsupported }

// Close does nothing.
func (*ConsoleSource) Close() error { return nil }

// EvdevSource is only available on Linux.
type EvdevSource struct{}

// EvdevOption configures an EvdevSource.
type EvdevOption func(*EvdevSource)

// WithEvdevLogger is accepted for API parity.
func WithEvdevLogger(*slog.Logger) EvdevOption { return func(*EvdevSource) {} }

// OpenEvdev returns ErrUnsupported.
func OpenEvdev(string, *scancode.Table, bool, ...EvdevOption) (*EvdevSource, error) {
	return nil, ErrUnsupported
}

// Read returns ErrUnsupported.
func (*EvdevSource) Read(context.Context) (Chunk, error) { return Chunk{}, ErrUnsupported }

// Close does nothing.
func (*EvdevSource) Close() error { return nil }

// EvdevKeyboards returns ErrUnsupported.
func EvdevKeyboards() ([]Keyboard, error) { return nil, ErrUnsupported }

// ListKeyboards returns ErrUnsupported.
func ListKeyboards() ([]Keyboard, error) { return nil, ErrUnsupported }
