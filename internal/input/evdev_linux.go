//go:build linux

package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"kbtest/internal/logging"
	"kbtest/internal/scancode"
)

// EvdevSource captures key events from an evdev device and encodes them into
// scancode bytes of a table, so they run through the same decoder as raw
// console bytes.
type EvdevSource struct {
	dev     *evdev.InputDevice
	table   *scancode.Table
	grabbed bool
	logger  *slog.Logger

	scan    uint32
	hasScan bool
}

// EvdevOption configures an EvdevSource.
type EvdevOption func(*EvdevSource)

// WithEvdevLogger sets the source logger.
func WithEvdevLogger(l *slog.Logger) EvdevOption {
	return func(s *EvdevSource) { s.logger = l }
}

// OpenEvdev opens the device at path. With grab set, the device is grabbed
// so its key presses do not reach other programs during the test.
func OpenEvdev(path string, table *scancode.Table, grab bool, opts ...EvdevOption) (*EvdevSource, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open evdev device %s: %w", path, err)
	}

	s := &EvdevSource{
		dev:    dev,
		table:  table,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("grab %s: %w", path, err)
		}
		s.grabbed = true
	}

	name, _ := dev.Name()
	s.logger.Info("evdev device opened", "path", path, "name", name, "grab", grab)
	return s, nil
}

// Read returns the bytes of the next key event.
func (s *EvdevSource) Read(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}
		ev, err := s.dev.ReadOne()
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Chunk{}, ctxErr
				}
			}
			return Chunk{}, fmt.Errorf("read evdev: %w", err)
		}

		switch ev.Type {
		case evdev.EV_MSC:
			if ev.Code == evdev.MSC_SCAN {
				s.scan = uint32(ev.Value)
				s.hasScan = true
			}

		case evdev.EV_SYN:
			s.hasScan = false

		case evdev.EV_KEY:
			data, ok := EncodeKeyEvent(s.table, uint16(ev.Code), ev.Value, s.scan, s.hasScan)
			s.hasScan = false
			if !ok {
				s.logger.Debug("key event not encodable", "code", uint16(ev.Code), "value", ev.Value)
				continue
			}
			at := time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*int64(time.Microsecond))
			return Chunk{Data: data, At: at}, nil
		}
	}
}

// Close releases the grab and closes the device.
func (s *EvdevSource) Close() error {
	if s.grabbed {
		s.dev.Ungrab()
	}
	return s.dev.Close()
}

// EvdevKeyboards probes every evdev node and returns the ones that can send
// both KEY_A and KEY_ENTER.
func EvdevKeyboards() ([]Keyboard, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	var keyboards []Keyboard
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		codes := dev.CapableEvents(evdev.EV_KEY)
		if slices.Contains(codes, evdev.KEY_A) && slices.Contains(codes, evdev.KEY_ENTER) {
			kb := Keyboard{Name: p.Name, EventPath: p.Path}
			if id, err := dev.InputID(); err == nil {
				kb.VendorID = id.Vendor
				kb.ProductID = id.Product
				kb.Version = id.Version
				kb.Connection = busToConnection(id.BusType)
				kb.Vendor = LookupVendorName(id.Vendor)
			}
			if phys, err := dev.PhysicalLocation(); err == nil {
				kb.Phys = phys
			}
			keyboards = append(keyboards, kb)
		}
		dev.Close()
	}
	return keyboards, nil
}
