package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbtest/internal/keyboard"
	"kbtest/internal/scancode"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"full", "TKL", "main"} {
		l, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, l.Sections)
	}

	_, err := Lookup("split")
	assert.ErrorIs(t, err, ErrUnknownLayout)
	assert.Equal(t, []string{"full", "main", "tkl"}, Names())
}

func TestKeyCounts(t *testing.T) {
	tests := map[string]int{"main": 75, "tkl": 88, "full": 105}
	for name, want := range tests {
		l, err := Lookup(name)
		require.NoError(t, err)
		assert.Len(t, l.Keys(), want, name)
	}
}

func TestEveryLayoutKeyDecodesWithSet1(t *testing.T) {
	table := scancode.Set1()
	l, err := Lookup("full")
	require.NoError(t, err)

	for _, key := range l.Keys() {
		_, ok := table.Encode(key, keyboard.Down)
		assert.True(t, ok, "set1 has no make code for %s", key)
	}
}

func TestCoverage(t *testing.T) {
	l, err := Lookup("main")
	require.NoError(t, err)

	presses := map[keyboard.KeyID]int{
		keyboard.KeyA:     3,
		keyboard.KeyEsc:   1,
		keyboard.KeyB:     0,
		keyboard.KeyKP5:   2,
		keyboard.KeyPause: 1,
	}
	cov := CoverageOf(l, presses)

	assert.Equal(t, "main", cov.Layout)
	assert.Equal(t, 75, cov.Total)
	assert.Equal(t, []keyboard.KeyID{keyboard.KeyEsc, keyboard.KeyA}, cov.Tested)
	assert.Len(t, cov.Untested, 73)
	assert.Contains(t, cov.Untested, keyboard.KeyB)
	assert.Equal(t, []keyboard.KeyID{keyboard.KeyKP5, keyboard.KeyPause}, cov.Outside)
	assert.InDelta(t, 2.0*100/75, cov.Percent(), 1e-9)
	assert.False(t, cov.Complete())
}

func TestCoverageComplete(t *testing.T) {
	l, err := Lookup("tkl")
	require.NoError(t, err)

	presses := make(map[keyboard.KeyID]int)
	for _, key := range l.Keys() {
		presses[key] = 1
	}
	cov := CoverageOf(l, presses)
	assert.True(t, cov.Complete())
	assert.Equal(t, 100.0, cov.Percent())
	assert.Empty(t, cov.Outside)
}
