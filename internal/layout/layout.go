// Package layout describes physical keyboard layouts as rows of labelled keys
// and measures how much of a layout a session has exercised.
package layout

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"kbtest/internal/keyboard"
)

// ErrUnknownLayout is returned by Lookup for an unregistered name.
var ErrUnknownLayout = errors.New("layout: unknown layout")

// Cell is one key as drawn on the keyboard.
type Cell struct {
	Label string
	Key   keyboard.KeyID
}

// Section is a block of rows, such as the main alphanumeric block.
type Section struct {
	Name string
	Rows [][]Cell
}

// Layout is a named keyboard form factor.
type Layout struct {
	Name     string
	Sections []Section
}

// Keys returns every key of the layout once, in drawing order.
func (l *Layout) Keys() []keyboard.KeyID {
	var keys []keyboard.KeyID
	seen := make(map[keyboard.KeyID]bool)
	for _, s := range l.Sections {
		for _, row := range s.Rows {
			for _, c := range row {
				if !seen[c.Key] {
					seen[c.Key] = true
					keys = append(keys, c.Key)
				}
			}
		}
	}
	return keys
}

// Contains reports whether key is drawn on the layout.
func (l *Layout) Contains(key keyboard.KeyID) bool {
	return slices.Contains(l.Keys(), key)
}

func row(cells ...Cell) []Cell { return cells }

func k(label string, key keyboard.KeyID) Cell { return Cell{Label: label, Key: key} }

var mainBlock = Section{
	Name: "main",
	Rows: [][]Cell{
		row(k("Esc", keyboard.KeyEsc), k("F1", keyboard.KeyF1), k("F2", keyboard.KeyF2), k("F3", keyboard.KeyF3),
			k("F4", keyboard.KeyF4), k("F5", keyboard.KeyF5), k("F6", keyboard.KeyF6), k("F7", keyboard.KeyF7),
			k("F8", keyboard.KeyF8), k("F9", keyboard.KeyF9), k("F10", keyboard.KeyF10), k("F11", keyboard.KeyF11),
			k("F12", keyboard.KeyF12)),
		row(k("`", keyboard.KeyGrave), k("1", keyboard.Key1), k("2", keyboard.Key2), k("3", keyboard.Key3),
			k("4", keyboard.Key4), k("5", keyboard.Key5), k("6", keyboard.Key6), k("7", keyboard.Key7),
			k("8", keyboard.Key8), k("9", keyboard.Key9), k("0", keyboard.Key0), k("-", keyboard.KeyMinus),
			k("=", keyboard.KeyEqual), k("Backspace", keyboard.KeyBackspace)),
		row(k("Tab", keyboard.KeyTab), k("Q", keyboard.KeyQ), k("W", keyboard.KeyW), k("E", keyboard.KeyE),
			k("R", keyboard.KeyR), k("T", keyboard.KeyT), k("Y", keyboard.KeyY), k("U", keyboard.KeyU),
			k("I", keyboard.KeyI), k("O", keyboard.KeyO), k("P", keyboard.KeyP), k("[", keyboard.KeyLeftBrace),
			k("]", keyboard.KeyRightBrace), k("Enter", keyboard.KeyEnter)),
		row(k("CapsLock", keyboard.KeyCapsLock), k("A", keyboard.KeyA), k("S", keyboard.KeyS), k("D", keyboard.KeyD),
			k("F", keyboard.KeyF), k("G", keyboard.KeyG), k("H", keyboard.KeyH), k("J", keyboard.KeyJ),
			k("K", keyboard.KeyK), k("L", keyboard.KeyL), k(";", keyboard.KeySemicolon), k("'", keyboard.KeyApostrophe),
			k("\\", keyboard.KeyBackslash)),
		row(k("Shift", keyboard.KeyLeftShift), k("<", keyboard.Key102nd), k("Z", keyboard.KeyZ), k("X", keyboard.KeyX),
			k("C", keyboard.KeyC), k("V", keyboard.KeyV), k("B", keyboard.KeyB), k("N", keyboard.KeyN),
			k("M", keyboard.KeyM), k(",", keyboard.KeyComma), k(".", keyboard.KeyDot), k("/", keyboard.KeySlash),
			k("RShift", keyboard.KeyRightShift)),
		row(k("LCtrl", keyboard.KeyLeftCtrl), k("LWin", keyboard.KeyLeftMeta), k("Alt", keyboard.KeyLeftAlt),
			k("Space", keyboard.KeySpace), k("AltGr", keyboard.KeyRightAlt), k("RWin", keyboard.KeyRightMeta),
			k("Menu", keyboard.KeyCompose), k("RCtrl", keyboard.KeyRightCtrl)),
	},
}

var navigationBlock = Section{
	Name: "navigation",
	Rows: [][]Cell{
		row(k("PrtSc", keyboard.KeySysRq), k("ScrLk", keyboard.KeyScrollLock), k("Pause", keyboard.KeyPause)),
		row(k("Insert", keyboard.KeyInsert), k("Home", keyboard.KeyHome), k("PgUp", keyboard.KeyPageUp)),
		row(k("Delete", keyboard.KeyDelete), k("End", keyboard.KeyEnd), k("PgDn", keyboard.KeyPageDown)),
		row(k("Up", keyboard.KeyUp)),
		row(k("Left", keyboard.KeyLeft), k("Down", keyboard.KeyDown), k("Right", keyboard.KeyRight)),
	},
}

var numpadBlock = Section{
	Name: "numpad",
	Rows: [][]Cell{
		row(k("NumLk", keyboard.KeyNumLock), k("/", keyboard.KeyKPSlash), k("*", keyboard.KeyKPAsterisk),
			k("-", keyboard.KeyKPMinus)),
		row(k("7", keyboard.KeyKP7), k("8", keyboard.KeyKP8), k("9", keyboard.KeyKP9), k("+", keyboard.KeyKPPlus)),
		row(k("4", keyboard.KeyKP4), k("5", keyboard.KeyKP5), k("6", keyboard.KeyKP6)),
		row(k("1", keyboard.KeyKP1), k("2", keyboard.KeyKP2), k("3", keyboard.KeyKP3)),
		row(k("0", keyboard.KeyKP0), k(".", keyboard.KeyKPDot), k("Enter", keyboard.KeyKPEnter)),
	},
}

var layouts = map[string]*Layout{
	"full": {Name: "full", Sections: []Section{mainBlock, navigationBlock, numpadBlock}},
	"tkl":  {Name: "tkl", Sections: []Section{mainBlock, navigationBlock}},
	"main": {Name: "main", Sections: []Section{mainBlock}},
}

// Names returns the registered layout names in sorted order.
func Names() []string {
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the layout registered under name.
func Lookup(name string) (*Layout, error) {
	l, ok := layouts[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownLayout, name, strings.Join(Names(), ", "))
	}
	return l, nil
}

// Coverage is how much of a layout a session pressed.
type Coverage struct {
	Layout   string           `json:"layout"`
	Total    int              `json:"total"`
	Tested   []keyboard.KeyID `json:"tested"`
	Untested []keyboard.KeyID `json:"untested"`

	// Outside lists pressed keys the layout does not draw.
	Outside []keyboard.KeyID `json:"outside,omitempty"`
}

// Percent returns the tested share of the layout, 0 to 100.
func (c Coverage) Percent() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(len(c.Tested)) * 100 / float64(c.Total)
}

// Complete reports whether every key of the layout was pressed.
func (c Coverage) Complete() bool {
	return c.Total > 0 && len(c.Untested) == 0
}

// CoverageOf splits the layout's keys by whether presses holds a positive
// count for them. Tested and Untested keep drawing order.
func CoverageOf(l *Layout, presses map[keyboard.KeyID]int) Coverage {
	keys := l.Keys()
	cov := Coverage{Layout: l.Name, Total: len(keys)}
	onLayout := make(map[keyboard.KeyID]bool, len(keys))
	for _, key := range keys {
		onLayout[key] = true
		if presses[key] > 0 {
			cov.Tested = append(cov.Tested, key)
		} else {
			cov.Untested = append(cov.Untested, key)
		}
	}
	for key, n := range presses {
		if n > 0 && !onLayout[key] {
			cov.Outside = append(cov.Outside, key)
		}
	}
	slices.Sort(cov.Outside)
	return cov
}
