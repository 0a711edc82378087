package anomaly

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbtest/internal/keyboard"
	"kbtest/internal/scancode"
)

var t0 = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func held(key keyboard.KeyID, since time.Time, reports int) keyboard.KeyState {
	return keyboard.KeyState{Key: key, Current: keyboard.Down, DownSince: &since, LastTransition: since, StuckReports: reports}
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	return d
}

func TestScanNoStuckKeys(t *testing.T) {
	d := newDetector(t)
	states := map[keyboard.KeyID]keyboard.KeyState{
		keyboard.KeyA: held(keyboard.KeyA, t0, 0),
		keyboard.KeyB: {Key: keyboard.KeyB, Current: keyboard.Up},
	}

	got := slices.Collect(d.Scan(states, t0.Add(DefaultStuckThreshold-time.Millisecond)))
	assert.Empty(t, got)
	assert.Equal(t, uint64(1), d.Cycle())
}

func TestScanOnePerInterval(t *testing.T) {
	d := newDetector(t)
	states := map[keyboard.KeyID]keyboard.KeyState{
		keyboard.KeyA: held(keyboard.KeyA, t0, 0),
	}

	now := t0.Add(3*DefaultStuckThreshold + time.Millisecond)
	got := slices.Collect(d.Scan(states, now))
	require.Len(t, got, 3)
	for i, a := range got {
		assert.Equal(t, keyboard.StuckKey, a.Kind)
		assert.True(t, a.HasKey(keyboard.KeyA))
		assert.Equal(t, now, a.Timestamp)
		assert.Equal(t, uint64(1), a.Cycle)
		assert.Equal(t, keyboard.SeverityWarning, a.Severity)
		assert.Contains(t, a.Detail, []string{"interval 1", "interval 2", "interval 3"}[i])
	}

	// Intervals already recorded in the state are not reported again.
	states[keyboard.KeyA] = held(keyboard.KeyA, t0, 3)
	assert.Empty(t, slices.Collect(d.Scan(states, now)))

	states[keyboard.KeyA] = held(keyboard.KeyA, t0, 2)
	again := slices.Collect(d.Scan(states, now))
	require.Len(t, again, 1)
	assert.Equal(t, uint64(3), again[0].Cycle)
}

func TestScanIsRestartable(t *testing.T) {
	d := newDetector(t)
	states := map[keyboard.KeyID]keyboard.KeyState{
		keyboard.KeyZ: held(keyboard.KeyZ, t0, 0),
		keyboard.KeyA: held(keyboard.KeyA, t0, 0),
	}

	seq := d.Scan(states, t0.Add(DefaultStuckThreshold))
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.True(t, first[0].HasKey(keyboard.KeyA), "keys are scanned in ascending order")
	assert.True(t, first[1].HasKey(keyboard.KeyZ))
}

func TestScanEarlyStop(t *testing.T) {
	d := newDetector(t)
	states := map[keyboard.KeyID]keyboard.KeyState{
		keyboard.KeyA: held(keyboard.KeyA, t0, 0),
	}

	n := 0
	for range d.Scan(states, t0.Add(10*DefaultStuckThreshold)) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestForward(t *testing.T) {
	d := newDetector(t)
	d.Scan(nil, t0)
	d.Scan(nil, t0)

	in := keyboard.NewAnomaly(keyboard.OutOfOrder, keyboard.KeyRef(keyboard.KeyA), t0, "release while already up")
	out := d.Forward(in)
	assert.Equal(t, uint64(2), out.Cycle)
	out.Cycle = 0
	assert.Equal(t, in, out)
}

func TestFromDiagnostic(t *testing.T) {
	d := newDetector(t)
	a := d.FromDiagnostic(scancode.Diagnostic{Kind: keyboard.UnknownScancode, Sequence: []byte{0x55}, Timestamp: t0})

	assert.Equal(t, keyboard.UnknownScancode, a.Kind)
	assert.Nil(t, a.Key)
	assert.Equal(t, []byte{0x55}, a.Sequence)
	assert.Equal(t, keyboard.SeverityError, a.Severity)
	assert.Contains(t, a.Detail, "55")
}

func TestSetThreshold(t *testing.T) {
	d := newDetector(t)
	assert.ErrorIs(t, d.SetThreshold(0), ErrInvalidThreshold)
	require.NoError(t, d.SetThreshold(time.Second))
	assert.Equal(t, time.Second, d.Threshold())

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestStuckReports(t *testing.T) {
	states := map[keyboard.KeyID]keyboard.KeyState{
		keyboard.KeyA: held(keyboard.KeyA, t0, 1),
	}
	batch := []keyboard.Anomaly{
		keyboard.NewAnomaly(keyboard.StuckKey, keyboard.KeyRef(keyboard.KeyA), t0, ""),
		keyboard.NewAnomaly(keyboard.StuckKey, keyboard.KeyRef(keyboard.KeyA), t0, ""),
		keyboard.NewAnomaly(keyboard.UnknownScancode, nil, t0, ""),
	}
	assert.Equal(t, map[keyboard.KeyID]int{keyboard.KeyA: 3}, StuckReports(batch, states))
}
