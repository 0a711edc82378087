//go:build linux

package input

import (
	"fmt"
	"os"
)

// ListKeyboards returns the keyboards the kernel knows about. It reads
// /proc/bus/input/devices and falls back to probing evdev nodes.
func ListKeyboards() ([]Keyboard, error) {
	f, err := os.Open(ProcInputDevices)
	if err == nil {
		defer f.Close()
		keyboards, perr := ParseInputDevices(f)
		if perr == nil {
			return keyboards, nil
		}
		err = perr
	}

	keyboards, eerr := EvdevKeyboards()
	if eerr != nil {
		return nil, fmt.Errorf("list keyboards: %w (evdev: %v)", err, eerr)
	}
	return keyboards, nil
}
