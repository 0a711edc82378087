package input

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kbtest/internal/keyboard"
	"kbtest/internal/scancode"
)

func TestEncodeKeyEvent(t *testing.T) {
	table := scancode.Set1()

	tests := []struct {
		name    string
		code    uint16
		value   int32
		scan    uint32
		hasScan bool
		want    []byte
		ok      bool
	}{
		{"press A", uint16(keyboard.KeyA), keyValueDown, 0, false, []byte{0x1E}, true},
		{"release A", uint16(keyboard.KeyA), keyValueUp, 0, false, []byte{0x9E}, true},
		{"repeat A", uint16(keyboard.KeyA), keyValueRepeat, 0, false, []byte{0x1E}, true},
		{"press Up", uint16(keyboard.KeyUp), keyValueDown, 0x48, true, []byte{0xE0, 0x48}, true},
		{"release Up", uint16(keyboard.KeyUp), keyValueUp, 0, false, []byte{0xE0, 0xC8}, true},
		{"unknown without scan", 240, keyValueDown, 0, false, nil, false},
		{"unknown with scan", 240, keyValueDown, 0x55, true, []byte{0x55}, true},
		{"unknown release with scan", 240, keyValueUp, 0x55, true, []byte{0xD5}, true},
		{"wide scan", 240, keyValueDown, 0x70011, true, []byte{0x07, 0x00, 0x11}, true},
		{"invalid value", uint16(keyboard.KeyA), 3, 0, false, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := EncodeKeyEvent(table, tt.code, tt.value, tt.scan, tt.hasScan)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeKeyEventDecodesBack(t *testing.T) {
	table := scancode.Set1()
	dec := scancode.NewDecoder(table)

	for _, key := range []keyboard.KeyID{keyboard.KeyA, keyboard.KeyUp, keyboard.KeyPause} {
		for _, value := range []int32{keyValueDown, keyValueUp} {
			data, ok := EncodeKeyEvent(table, uint16(key), value, 0, false)
			assert.True(t, ok)

			var decoded []keyboard.Transition
			for _, b := range data {
				res := dec.Feed(b, readerT0)
				if res.Transition != nil {
					decoded = append(decoded, *res.Transition)
				}
			}
			if assert.Len(t, decoded, 1, "key %s value %d", key, value) {
				assert.Equal(t, key, decoded[0].Key)
			}
		}
	}
}

func TestScanBytes(t *testing.T) {
	assert.Equal(t, []byte{0x00}, scanBytes(0))
	assert.Equal(t, []byte{0x1E}, scanBytes(0x1E))
	assert.Equal(t, []byte{0xE0, 0x48}, scanBytes(0xE048))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, scanBytes(0x01020304))
}
