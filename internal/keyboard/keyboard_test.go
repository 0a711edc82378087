package keyboard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKey(t *testing.T) {
	tests := []struct {
		name string
		want KeyID
	}{
		{"A", KeyA},
		{"a", KeyA},
		{"KEY_LEFTCTRL", KeyLeftCtrl},
		{"leftctrl", KeyLeftCtrl},
		{" Pause ", KeyPause},
		{"KP+", KeyKPPlus},
	}
	for _, test := range tests {
		got, ok := LookupKey(test.name)
		require.True(t, ok, test.name)
		assert.Equal(t, test.want, got, test.name)
	}

	_, ok := LookupKey("Hyper")
	assert.False(t, ok)
}

func TestKeyIDString(t *testing.T) {
	assert.Equal(t, "A", KeyA.String())
	assert.Equal(t, "KEY_500", KeyID(500).String())
}

func TestDirectionText(t *testing.T) {
	var d Direction
	require.NoError(t, d.UnmarshalText([]byte("make")))
	assert.Equal(t, Down, d)
	require.NoError(t, d.UnmarshalText([]byte("up")))
	assert.Equal(t, Up, d)
	assert.Error(t, d.UnmarshalText([]byte("sideways")))
}

func TestKeyEventJSON(t *testing.T) {
	ev := KeyEvent{Key: KeyA, Kind: Repeated, Timestamp: time.Unix(10, 0).UTC(), RepeatCount: 2}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"repeated"`)

	var back KeyEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev, back)
}

func TestAnomalyKinds(t *testing.T) {
	for _, kind := range AnomalyKinds {
		var back AnomalyKind
		require.NoError(t, back.UnmarshalText([]byte(kind.String())))
		assert.Equal(t, kind, back)
	}

	assert.Equal(t, SeverityWarning, StuckKey.Severity())
	assert.Equal(t, SeverityError, MalformedSequence.Severity())
	assert.Equal(t, SeverityError, UnknownScancode.Severity())
	assert.Equal(t, SeverityNotice, BounceRejected.Severity())
	assert.Equal(t, SeverityNotice, OutOfOrder.Severity())
}

func TestAnomalyString(t *testing.T) {
	a := NewAnomaly(StuckKey, KeyRef(KeyA), time.Time{}, "held 3s")
	assert.Equal(t, "stuck_key(A): held 3s", a.String())
	assert.True(t, a.HasKey(KeyA))

	b := NewAnomaly(UnknownScancode, nil, time.Time{}, "55")
	assert.Equal(t, "unknown_scancode: 55", b.String())
	assert.False(t, b.HasKey(KeyA))
}

func TestFormatSequence(t *testing.T) {
	assert.Equal(t, "E1 1D 45", FormatSequence([]byte{0xE1, 0x1D, 0x45}))
	assert.Equal(t, "", FormatSequence(nil))
}

func TestKeyStateHeldAndClone(t *testing.T) {
	down := time.Unix(100, 0)
	st := KeyState{Key: KeyA, Current: Down, DownSince: &down}
	assert.Equal(t, 2*time.Second, st.Held(down.Add(2*time.Second)))

	c := st.Clone()
	*c.DownSince = down.Add(time.Hour)
	assert.Equal(t, down, *st.DownSince)

	st.Current = Up
	assert.Zero(t, st.Held(down.Add(time.Minute)))
}
