//go:build linux

package input

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Keyboard mode ioctls and modes from linux/kd.h.
const (
	kdGetKeyboardMode = 0x4B44 // KDGKBMODE
	kdSetKeyboardMode = 0x4B45 // KDSKBMODE
	kbModeRaw         = 0x00   // K_RAW
)

// DefaultConsole is the controlling terminal.
const DefaultConsole = "/dev/tty"

// consolePoll bounds how long a Read blocks before rechecking its context.
const consolePoll = 200 * time.Millisecond

// ConsoleSource reads raw set 1 scancodes from a Linux virtual console. It
// switches the console keyboard to K_RAW and the terminal to raw mode, and
// restores both on Close.
type ConsoleSource struct {
	f        *os.File
	fd       int
	oldMode  int
	oldState *term.State
	buf      []byte
	deadline bool
	now      func() time.Time
}

// OpenConsole prepares path, a virtual console, for raw capture. Only a
// text console accepts K_RAW; terminal emulators fail with ENOTTY or EINVAL.
func OpenConsole(path string) (*ConsoleSource, error) {
	if path == "" {
		path = DefaultConsole
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open console: %w", err)
	}
	fd := int(f.Fd())

	if !term.IsTerminal(fd) {
		f.Close()
		return nil, fmt.Errorf("open console: %s is not a terminal", path)
	}

	mode, err := unix.IoctlGetInt(fd, kdGetKeyboardMode)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read keyboard mode of %s (not a virtual console?): %w", path, err)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("set raw terminal mode: %w", err)
	}

	if err := unix.IoctlSetInt(fd, kdSetKeyboardMode, kbModeRaw); err != nil {
		term.Restore(fd, state)
		f.Close()
		return nil, fmt.Errorf("set raw keyboard mode: %w", err)
	}

	return &ConsoleSource{
		f:        f,
		fd:       fd,
		oldMode:  mode,
		oldState: state,
		buf:      make([]byte, 64),
		deadline: f.SetReadDeadline(time.Time{}) == nil,
		now:      time.Now,
	}, nil
}

// Read returns the next scancode bytes.
func (c *ConsoleSource) Read(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		if c.deadline {
			c.f.SetReadDeadline(time.Now().Add(consolePoll))
		}
		n, err := c.f.Read(c.buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, c.buf[:n])
			return Chunk{Data: data, At: c.now()}, nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("read console: %w", err)
		}
	}
}

// Close restores the keyboard and terminal modes and closes the console.
func (c *ConsoleSource) Close() error {
	errMode := unix.IoctlSetInt(c.fd, kdSetKeyboardMode, c.oldMode)
	errTerm := term.Restore(c.fd, c.oldState)
	errClose := c.f.Close()
	if errMode != nil {
		return fmt.Errorf("restore keyboard mode: %w", errMode)
	}
	if errTerm != nil {
		return fmt.Errorf("restore terminal: %w", errTerm)
	}
	return errClose
}
