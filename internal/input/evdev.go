package input

import (
	"kbtest/internal/keyboard"
	"kbtest/internal/scancode"
)

// Linux EV_KEY values.
const (
	keyValueUp     = 0
	keyValueDown   = 1
	keyValueRepeat = 2
)

// breakBit marks a set 1 break code.
const breakBit = 0x80

// EncodeKeyEvent turns one evdev key event into the table's byte sequence.
// Autorepeat is encoded as another make code. When the table has no entry
// for the key, the MSC_SCAN value reported with the event is passed through
// as raw bytes, break bit set on release, so the decoder can flag it. It
// returns false when there is nothing to emit.
func EncodeKeyEvent(table *scancode.Table, code uint16, value int32, scan uint32, hasScan bool) ([]byte, bool) {
	var dir keyboard.Direction
	switch value {
	case keyValueDown, keyValueRepeat:
		dir = keyboard.Down
	case keyValueUp:
		dir = keyboard.Up
	default:
		return nil, false
	}

	if seq, ok := table.Encode(keyboard.KeyID(code), dir); ok {
		return seq, true
	}
	if !hasScan {
		return nil, false
	}

	raw := scanBytes(scan)
	if dir == keyboard.Up {
		raw[len(raw)-1] |= breakBit
	}
	return raw, true
}

// scanBytes renders a scan value big-endian without leading zero bytes.
func scanBytes(scan uint32) []byte {
	out := []byte{byte(scan >> 24), byte(scan >> 16), byte(scan >> 8), byte(scan)}
	for len(out) > 1 && out[0] == 0 {
		out = out[1:]
	}
	return out
}
