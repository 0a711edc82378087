// Package anomaly surfaces higher-order keyboard faults from the key state
// and forwards decoder and tracker faults into a single ordered log.
package anomaly

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"time"

	"kbtest/internal/keyboard"
	"kbtest/internal/scancode"
)

// DefaultStuckThreshold is how long a key may stay down before it is
// reported as stuck.
const DefaultStuckThreshold = 3 * time.Second

// ErrInvalidThreshold is returned for a non-positive stuck-key threshold.
var ErrInvalidThreshold = errors.New("anomaly: stuck-key threshold must be positive")

// Config holds detector settings.
type Config struct {
	StuckThreshold time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{StuckThreshold: DefaultStuckThreshold}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StuckThreshold <= 0 {
		return fmt.Errorf("%w (got %s)", ErrInvalidThreshold, c.StuckThreshold)
	}
	return nil
}

// Detector runs the periodic stuck-key scan and tags forwarded anomalies
// with its scan cycle. Its only state is the cycle counter; how many
// intervals were already reported for a hold lives in KeyState.
type Detector struct {
	cfg   Config
	cycle uint64
}

// New creates a detector.
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Cycle returns the number of scans started so far.
func (d *Detector) Cycle() uint64 {
	return d.cycle
}

// Threshold returns the stuck-key threshold.
func (d *Detector) Threshold() time.Duration {
	return d.cfg.StuckThreshold
}

// SetThreshold replaces the stuck-key threshold.
func (d *Detector) SetThreshold(threshold time.Duration) error {
	cfg := Config{StuckThreshold: threshold}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.cfg = cfg
	return nil
}

// Scan starts a new scan cycle over states at now. The returned sequence is
// evaluated lazily and yields the same anomalies each time it is iterated:
// one StuckKey per threshold interval a held key has crossed beyond the
// intervals already recorded in its StuckReports, keys in ascending order.
func (d *Detector) Scan(states map[keyboard.KeyID]keyboard.KeyState, now time.Time) iter.Seq[keyboard.Anomaly] {
	d.cycle++
	cycle := d.cycle
	threshold := d.cfg.StuckThreshold

	return func(yield func(keyboard.Anomaly) bool) {
		for _, key := range slices.Sorted(maps.Keys(states)) {
			st := states[key]
			held := st.Held(now)
			if held <= 0 {
				continue
			}
			intervals := int(held / threshold)
			for n := st.StuckReports + 1; n <= intervals; n++ {
				a := keyboard.NewAnomaly(keyboard.StuckKey, keyboard.KeyRef(key), now,
					fmt.Sprintf("held %s (interval %d of %s)", held.Truncate(time.Millisecond), n, threshold))
				a.Cycle = cycle
				if !yield(a) {
					return
				}
			}
		}
	}
}

// Forward tags a decoder or tracker anomaly with the current scan cycle.
func (d *Detector) Forward(a keyboard.Anomaly) keyboard.Anomaly {
	a.Cycle = d.cycle
	return a
}

// FromDiagnostic converts a decoder diagnostic into a forwarded anomaly.
func (d *Detector) FromDiagnostic(diag scancode.Diagnostic) keyboard.Anomaly {
	a := keyboard.NewAnomaly(diag.Kind, nil, diag.Timestamp, diag.Detail())
	a.Sequence = diag.Sequence
	return d.Forward(a)
}

// StuckReports returns how many StuckKey anomalies in batch name each key.
func StuckReports(batch []keyboard.Anomaly, states map[keyboard.KeyID]keyboard.KeyState) map[keyboard.KeyID]int {
	out := make(map[keyboard.KeyID]int)
	for _, a := range batch {
		if a.Kind != keyboard.StuckKey || a.Key == nil {
			continue
		}
		if _, ok := out[*a.Key]; !ok {
			out[*a.Key] = states[*a.Key].StuckReports
		}
		out[*a.Key]++
	}
	return out
}
