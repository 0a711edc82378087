// Package report turns a finished diagnostic session into a self-contained
// record that can be printed, exported as JSON and stored.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"kbtest/internal/keyboard"
	"kbtest/internal/layout"
	"kbtest/internal/session"
)

// Exit reasons recorded by the runner.
const (
	ExitEOF      = "eof"
	ExitChord    = "exit_chord"
	ExitCanceled = "canceled"
)

// Report is the outcome of one session.
type Report struct {
	ID         string       `json:"id"`
	Table      string       `json:"table"`
	Layout     string       `json:"layout,omitempty"`
	Device     string       `json:"device,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    time.Time    `json:"ended_at"`
	ExitReason string       `json:"exit_reason,omitempty"`
	Stats      Stats        `json:"stats"`
	Keys       []KeyRow     `json:"keys"`
	Anomalies  []AnomalyRow `json:"anomalies"`
	Events     []EventRow   `json:"events,omitempty"`
	Coverage   *Coverage    `json:"coverage,omitempty"`
}

// Stats are the session counters.
type Stats struct {
	Bytes       int            `json:"bytes"`
	Transitions int            `json:"transitions"`
	Pressed     int            `json:"pressed"`
	Released    int            `json:"released"`
	Repeated    int            `json:"repeated"`
	Anomalies   map[string]int `json:"anomalies"`
	LastPressed string         `json:"last_pressed,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

// KeyRow is the final state of one key the session saw.
type KeyRow struct {
	Code         uint16 `json:"code"`
	Name         string `json:"name"`
	Presses      int    `json:"presses"`
	Repeats      int    `json:"repeats"`
	State        string `json:"state"`
	StuckReports int    `json:"stuck_reports"`
}

// AnomalyRow is one entry of the anomaly log.
type AnomalyRow struct {
	Kind      string    `json:"kind"`
	Code      *uint16   `json:"code,omitempty"`
	KeyName   string    `json:"key_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail"`
	Sequence  string    `json:"sequence,omitempty"`
	Cycle     uint64    `json:"cycle"`
	Severity  string    `json:"severity"`
}

// EventRow is one accepted key event.
type EventRow struct {
	Code        uint16    `json:"code"`
	KeyName     string    `json:"key_name"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	RepeatCount int       `json:"repeat_count,omitempty"`
}

// Coverage is the layout coverage with keys rendered by name.
type Coverage struct {
	Layout   string   `json:"layout"`
	Total    int      `json:"total"`
	Tested   []string `json:"tested"`
	Untested []string `json:"untested"`
	Outside  []string `json:"outside,omitempty"`
	Percent  float64  `json:"percent"`
}

// Build snapshots s into a report. An empty id gets a fresh UUID. The
// coverage section is omitted when l is nil.
func Build(id string, s *session.Session, l *layout.Layout) *Report {
	if id == "" {
		id = uuid.NewString()
	}
	table := s.Table()
	st := s.Stats()

	r := &Report{
		ID:        id,
		Table:     table.Name(),
		StartedAt: st.StartedAt.UTC(),
		EndedAt:   st.EndedAt.UTC(),
		Stats: Stats{
			Bytes:       st.Bytes,
			Transitions: st.Transitions,
			Pressed:     st.Pressed,
			Released:    st.Released,
			Repeated:    st.Repeated,
			Anomalies:   make(map[string]int, len(st.Anomalies)),
			DurationMs:  st.Duration().Milliseconds(),
		},
		Keys:      []KeyRow{},
		Anomalies: []AnomalyRow{},
	}
	for kind, n := range st.Anomalies {
		if n > 0 {
			r.Stats.Anomalies[kind.String()] = n
		}
	}
	if st.LastPressed != nil {
		r.Stats.LastPressed = table.KeyName(*st.LastPressed)
	}

	repeats := make(map[keyboard.KeyID]int)
	for _, ev := range s.Events() {
		if ev.Kind == keyboard.Repeated {
			repeats[ev.Key]++
		}
		r.Events = append(r.Events, EventRow{
			Code:        uint16(ev.Key),
			KeyName:     table.KeyName(ev.Key),
			Kind:        ev.Kind.String(),
			Timestamp:   ev.Timestamp.UTC(),
			RepeatCount: ev.RepeatCount,
		})
	}

	snap := s.Snapshot()
	ids := make([]keyboard.KeyID, 0, len(snap))
	for k := range snap {
		ids = append(ids, k)
	}
	slices.Sort(ids)
	for _, k := range ids {
		ks := snap[k]
		r.Keys = append(r.Keys, KeyRow{
			Code:         uint16(k),
			Name:         table.KeyName(k),
			Presses:      ks.Presses,
			Repeats:      repeats[k],
			State:        ks.Current.String(),
			StuckReports: ks.StuckReports,
		})
	}

	for _, a := range s.Anomalies() {
		row := AnomalyRow{
			Kind:      a.Kind.String(),
			Timestamp: a.Timestamp.UTC(),
			Detail:    a.Detail,
			Sequence:  keyboard.FormatSequence(a.Sequence),
			Cycle:     a.Cycle,
			Severity:  string(a.Severity),
		}
		if a.Key != nil {
			code := uint16(*a.Key)
			row.Code = &code
			row.KeyName = table.KeyName(*a.Key)
		}
		r.Anomalies = append(r.Anomalies, row)
	}

	if l != nil {
		r.Layout = l.Name
		r.Coverage = CoverageFrom(l, st.Presses)
	}
	return r
}

// CoverageFrom renders layout coverage for per-key press counts.
func CoverageFrom(l *layout.Layout, presses map[keyboard.KeyID]int) *Coverage {
	cov := layout.CoverageOf(l, presses)
	return &Coverage{
		Layout:   cov.Layout,
		Total:    cov.Total,
		Tested:   keyNames(cov.Tested),
		Untested: keyNames(cov.Untested),
		Outside:  keyNames(cov.Outside),
		Percent:  cov.Percent(),
	}
}

func keyNames(keys []keyboard.KeyID) []string {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	return names
}

// AnomalyCount returns the number of logged anomalies.
func (r *Report) AnomalyCount() int {
	return len(r.Anomalies)
}

// Duration returns the session length.
func (r *Report) Duration() time.Duration {
	return time.Duration(r.Stats.DurationMs) * time.Millisecond
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Decode reads a report written by WriteJSON.
func Decode(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// coverageNamesPerLine bounds the untested key listing width.
const coverageNamesPerLine = 8

// WriteText writes a human-readable report. The output depends only on the
// report contents.
func (r *Report) WriteText(w io.Writer) error {
	p := &printer{w: w}

	p.printf("Session %s\n", r.ID)
	p.printf("  Table:        %s\n", r.Table)
	if r.Layout != "" {
		p.printf("  Layout:       %s\n", r.Layout)
	}
	if r.Device != "" {
		p.printf("  Device:       %s\n", r.Device)
	}
	p.printf("  Started:      %s\n", formatTime(r.StartedAt))
	p.printf("  Ended:        %s\n", formatTime(r.EndedAt))
	p.printf("  Duration:     %s\n", r.Duration())
	if r.ExitReason != "" {
		p.printf("  Exit:         %s\n", r.ExitReason)
	}

	p.printf("\nInput\n")
	p.printf("  Bytes:        %d\n", r.Stats.Bytes)
	p.printf("  Transitions:  %d\n", r.Stats.Transitions)
	p.printf("  Pressed:      %d\n", r.Stats.Pressed)
	p.printf("  Released:     %d\n", r.Stats.Released)
	p.printf("  Repeated:     %d\n", r.Stats.Repeated)
	p.printf("  Last pressed: %s\n", orDash(r.Stats.LastPressed))

	p.printf("\nKeys (%d)\n", len(r.Keys))
	if len(r.Keys) == 0 {
		p.printf("  none\n")
	} else {
		p.printf("  %-12s %5s %8s %8s  %-5s %5s\n", "KEY", "CODE", "PRESSES", "REPEATS", "STATE", "STUCK")
		for _, k := range r.Keys {
			p.printf("  %-12s %5d %8d %8d  %-5s %5d\n", k.Name, k.Code, k.Presses, k.Repeats, k.State, k.StuckReports)
		}
	}

	p.printf("\nAnomalies (%d)\n", len(r.Anomalies))
	if len(r.Anomalies) == 0 {
		p.printf("  none\n")
	} else {
		for _, kind := range keyboard.AnomalyKinds {
			if n := r.Stats.Anomalies[kind.String()]; n > 0 {
				p.printf("  %-19s %d\n", kind.String()+":", n)
			}
		}
		p.printf("\n")
		p.printf("  %-9s %5s  %-8s %-18s %-9s %-11s %s\n", "OFFSET", "CYCLE", "SEVERITY", "KIND", "KEY", "SEQUENCE", "DETAIL")
		for _, a := range r.Anomalies {
			p.printf("  %-9s %5d  %-8s %-18s %-9s %-11s %s\n",
				formatOffset(a.Timestamp.Sub(r.StartedAt)), a.Cycle, a.Severity, a.Kind,
				orDash(a.KeyName), orDash(a.Sequence), a.Detail)
		}
	}

	if c := r.Coverage; c != nil {
		p.printf("\nCoverage (%s)\n", c.Layout)
		p.printf("  Tested:       %d/%d (%.1f%%)\n", len(c.Tested), c.Total, c.Percent)
		p.names("Untested:", c.Untested)
		if len(c.Outside) > 0 {
			p.names("Outside:", c.Outside)
		}
	}
	return p.err
}

// printer keeps the first write error so rendering code stays linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) names(label string, names []string) {
	if len(names) == 0 {
		p.printf("  %-13s none\n", label)
		return
	}
	for i := 0; i < len(names); i += coverageNamesPerLine {
		chunk := names[i:min(i+coverageNamesPerLine, len(names))]
		if i == 0 {
			p.printf("  %-13s %s\n", label, strings.Join(chunk, " "))
		} else {
			p.printf("  %-13s %s\n", "", strings.Join(chunk, " "))
		}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339Nano)
}

func formatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("+%.3fs", d.Seconds())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
