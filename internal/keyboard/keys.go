package keyboard

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Key ids for the keys the built-in tables and layouts refer to.
const (
	KeyEsc        KeyID = 1
	Key1          KeyID = 2
	Key2          KeyID = 3
	Key3          KeyID = 4
	Key4          KeyID = 5
	Key5          KeyID = 6
	Key6          KeyID = 7
	Key7          KeyID = 8
	Key8          KeyID = 9
	Key9          KeyID = 10
	Key0          KeyID = 11
	KeyMinus      KeyID = 12
	KeyEqual      KeyID = 13
	KeyBackspace  KeyID = 14
	KeyTab        KeyID = 15
	KeyQ          KeyID = 16
	KeyW          KeyID = 17
	KeyE          KeyID = 18
	KeyR          KeyID = 19
	KeyT          KeyID = 20
	KeyY          KeyID = 21
	KeyU          KeyID = 22
	KeyI          KeyID = 23
	KeyO          KeyID = 24
	KeyP          KeyID = 25
	KeyLeftBrace  KeyID = 26
	KeyRightBrace KeyID = 27
	KeyEnter      KeyID = 28
	KeyLeftCtrl   KeyID = 29
	KeyA          KeyID = 30
	KeyS          KeyID = 31
	KeyD          KeyID = 32
	KeyF          KeyID = 33
	KeyG          KeyID = 34
	KeyH          KeyID = 35
	KeyJ          KeyID = 36
	KeyK          KeyID = 37
	KeyL          KeyID = 38
	KeySemicolon  KeyID = 39
	KeyApostrophe KeyID = 40
	KeyGrave      KeyID = 41
	KeyLeftShift  KeyID = 42
	KeyBackslash  KeyID = 43
	KeyZ          KeyID = 44
	KeyX          KeyID = 45
	KeyC          KeyID = 46
	KeyV          KeyID = 47
	KeyB          KeyID = 48
	KeyN          KeyID = 49
	KeyM          KeyID = 50
	KeyComma      KeyID = 51
	KeyDot        KeyID = 52
	KeySlash      KeyID = 53
	KeyRightShift KeyID = 54
	KeyKPAsterisk KeyID = 55
	KeyLeftAlt    KeyID = 56
	KeySpace      KeyID = 57
	KeyCapsLock   KeyID = 58
	KeyF1         KeyID = 59
	KeyF2         KeyID = 60
	KeyF3         KeyID = 61
	KeyF4         KeyID = 62
	KeyF5         KeyID = 63
	KeyF6         KeyID = 64
	KeyF7         KeyID = 65
	KeyF8         KeyID = 66
	KeyF9         KeyID = 67
	KeyF10        KeyID = 68
	KeyNumLock    KeyID = 69
	KeyScrollLock KeyID = 70
	KeyKP7        KeyID = 71
	KeyKP8        KeyID = 72
	KeyKP9        KeyID = 73
	KeyKPMinus    KeyID = 74
	KeyKP4        KeyID = 75
	KeyKP5        KeyID = 76
	KeyKP6        KeyID = 77
	KeyKPPlus     KeyID = 78
	KeyKP1        KeyID = 79
	KeyKP2        KeyID = 80
	KeyKP3        KeyID = 81
	KeyKP0        KeyID = 82
	KeyKPDot      KeyID = 83
	Key102nd      KeyID = 86
	KeyF11        KeyID = 87
	KeyF12        KeyID = 88
	KeyKPEnter    KeyID = 96
	KeyRightCtrl  KeyID = 97
	KeyKPSlash    KeyID = 98
	KeySysRq      KeyID = 99
	KeyRightAlt   KeyID = 100
	KeyHome       KeyID = 102
	KeyUp         KeyID = 103
	KeyPageUp     KeyID = 104
	KeyLeft       KeyID = 105
	KeyRight      KeyID = 106
	KeyEnd        KeyID = 107
	KeyDown       KeyID = 108
	KeyPageDown   KeyID = 109
	KeyInsert     KeyID = 110
	KeyDelete     KeyID = 111
	KeyPower      KeyID = 116
	KeyPause      KeyID = 119
	KeyLeftMeta   KeyID = 125
	KeyRightMeta  KeyID = 126
	KeyCompose    KeyID = 127
	KeySleep      KeyID = 142
	KeyWakeUp     KeyID = 143
)

var keyNames = map[KeyID]string{
	KeyEsc:        "Esc",
	Key1:          "1",
	Key2:          "2",
	Key3:          "3",
	Key4:          "4",
	Key5:          "5",
	Key6:          "6",
	Key7:          "7",
	Key8:          "8",
	Key9:          "9",
	Key0:          "0",
	KeyMinus:      "Minus",
	KeyEqual:      "Equal",
	KeyBackspace:  "Backspace",
	KeyTab:        "Tab",
	KeyQ:          "Q",
	KeyW:          "W",
	KeyE:          "E",
	KeyR:          "R",
	KeyT:          "T",
	KeyY:          "Y",
	KeyU:          "U",
	KeyI:          "I",
	KeyO:          "O",
	KeyP:          "P",
	KeyLeftBrace:  "LeftBrace",
	KeyRightBrace: "RightBrace",
	KeyEnter:      "Enter",
	KeyLeftCtrl:   "LeftCtrl",
	KeyA:          "A",
	KeyS:          "S",
	KeyD:          "D",
	KeyF:          "F",
	KeyG:          "G",
	KeyH:          "H",
	KeyJ:          "J",
	KeyK:          "K",
	KeyL:          "L",
	KeySemicolon:  "Semicolon",
	KeyApostrophe: "Apostrophe",
	KeyGrave:      "Grave",
	KeyLeftShift:  "LeftShift",
	KeyBackslash:  "Backslash",
	KeyZ:          "Z",
	KeyX:          "X",
	KeyC:          "C",
	KeyV:          "V",
	KeyB:          "B",
	KeyN:          "N",
	KeyM:          "M",
	KeyComma:      "Comma",
	KeyDot:        "Dot",
	KeySlash:      "Slash",
	KeyRightShift: "RightShift",
	KeyKPAsterisk: "KP*",
	KeyLeftAlt:    "LeftAlt",
	KeySpace:      "Space",
	KeyCapsLock:   "CapsLock",
	KeyF1:         "F1",
	KeyF2:         "F2",
	KeyF3:         "F3",
	KeyF4:         "F4",
	KeyF5:         "F5",
	KeyF6:         "F6",
	KeyF7:         "F7",
	KeyF8:         "F8",
	KeyF9:         "F9",
	KeyF10:        "F10",
	KeyNumLock:    "NumLock",
	KeyScrollLock: "ScrollLock",
	KeyKP7:        "KP7",
	KeyKP8:        "KP8",
	KeyKP9:        "KP9",
	KeyKPMinus:    "KP-",
	KeyKP4:        "KP4",
	KeyKP5:        "KP5",
	KeyKP6:        "KP6",
	KeyKPPlus:     "KP+",
	KeyKP1:        "KP1",
	KeyKP2:        "KP2",
	KeyKP3:        "KP3",
	KeyKP0:        "KP0",
	KeyKPDot:      "KP.",
	Key102nd:      "102nd",
	KeyF11:        "F11",
	KeyF12:        "F12",
	KeyKPEnter:    "KPEnter",
	KeyRightCtrl:  "RightCtrl",
	KeyKPSlash:    "KP/",
	KeySysRq:      "SysRq",
	KeyRightAlt:   "RightAlt",
	KeyHome:       "Home",
	KeyUp:         "Up",
	KeyPageUp:     "PageUp",
	KeyLeft:       "Left",
	KeyRight:      "Right",
	KeyEnd:        "End",
	KeyDown:       "Down",
	KeyPageDown:   "PageDown",
	KeyInsert:     "Insert",
	KeyDelete:     "Delete",
	KeyPower:      "Power",
	KeyPause:      "Pause",
	KeyLeftMeta:   "LeftMeta",
	KeyRightMeta:  "RightMeta",
	KeyCompose:    "Compose",
	KeySleep:      "Sleep",
	KeyWakeUp:     "WakeUp",
}

var keysByName = func() map[string]KeyID {
	m := make(map[string]KeyID, len(keyNames))
	for id, name := range keyNames {
		m[foldName(name)] = id
	}
	return m
}()

// LookupKey resolves a key name (case-insensitive, optional KEY_ prefix) to
// its id.
func LookupKey(name string) (KeyID, bool) {
	id, ok := keysByName[strings.TrimPrefix(foldName(name), "key_")]
	return id, ok
}

// foldName normalizes a key name for lookups: NFC, then Unicode case folding,
// so names typed on any keyboard layout compare equal.
func foldName(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}
