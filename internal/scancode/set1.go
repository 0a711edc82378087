package scancode

import "kbtest/internal/keyboard"

// Set 1 prefix bytes.
const (
	PrefixE0 byte = 0xE0
	PrefixE1 byte = 0xE1

	// breakBit turns a set 1 make code into its break code.
	breakBit byte = 0x80
)

// set1Extended maps the second byte of an E0 sequence to its key.
var set1Extended = []struct {
	code byte
	key  keyboard.KeyID
}{
	{0x1C, keyboard.KeyKPEnter},
	{0x1D, keyboard.KeyRightCtrl},
	{0x35, keyboard.KeyKPSlash},
	{0x37, keyboard.KeySysRq},
	{0x38, keyboard.KeyRightAlt},
	{0x47, keyboard.KeyHome},
	{0x48, keyboard.KeyUp},
	{0x49, keyboard.KeyPageUp},
	{0x4B, keyboard.KeyLeft},
	{0x4D, keyboard.KeyRight},
	{0x4F, keyboard.KeyEnd},
	{0x50, keyboard.KeyDown},
	{0x51, keyboard.KeyPageDown},
	{0x52, keyboard.KeyInsert},
	{0x53, keyboard.KeyDelete},
	{0x5B, keyboard.KeyLeftMeta},
	{0x5C, keyboard.KeyRightMeta},
	{0x5D, keyboard.KeyCompose},
	{0x5E, keyboard.KeyPower},
	{0x5F, keyboard.KeySleep},
	{0x63, keyboard.KeyWakeUp},
}

// Set1 returns the IBM PC scancode set 1 dialect. Base make codes 0x01-0x53
// and 0x56-0x58 equal their key ids; E0 sequences cover the navigation
// cluster and the right-hand modifiers; Pause is E1 1D 45 / E1 9D C5. The
// fake shift codes some keyboards wrap around navigation keys are ignored.
func Set1() *Table {
	var entries []Entry
	addPair := func(mk []byte, key keyboard.KeyID) {
		entries = append(entries,
			Entry{Sequence: mk, Key: key, Direction: keyboard.Down},
			Entry{Sequence: BreakOf(mk), Key: key, Direction: keyboard.Up},
		)
	}

	for code := byte(0x01); code <= 0x53; code++ {
		addPair([]byte{code}, keyboard.KeyID(code))
	}
	for _, code := range []byte{0x56, 0x57, 0x58} {
		addPair([]byte{code}, keyboard.KeyID(code))
	}
	for _, e := range set1Extended {
		addPair([]byte{PrefixE0, e.code}, e.key)
	}
	entries = append(entries,
		Entry{Sequence: []byte{PrefixE1, 0x1D, 0x45}, Key: keyboard.KeyPause, Direction: keyboard.Down},
		Entry{Sequence: []byte{PrefixE1, 0x9D, 0xC5}, Key: keyboard.KeyPause, Direction: keyboard.Up},
	)

	t, err := NewTable("set1", entries,
		WithExtendedPrefixes(PrefixE0, PrefixE1),
		WithMaxSequenceLength(DefaultMaxSequenceLength),
		WithIgnored(
			[]byte{PrefixE0, 0x2A}, []byte{PrefixE0, 0xAA},
			[]byte{PrefixE0, 0x36}, []byte{PrefixE0, 0xB6},
		),
	)
	if err != nil {
		panic(err)
	}
	return t
}

// BreakOf derives a set 1 break sequence from a make sequence by setting the
// high bit of the last byte.
func BreakOf(mk []byte) []byte {
	brk := append([]byte(nil), mk...)
	if len(brk) > 0 {
		brk[len(brk)-1] |= breakBit
	}
	return brk
}
