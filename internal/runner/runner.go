// Package runner hosts a diagnostic session: it pumps bytes from an input
// source into the session, drives the periodic stuck-key scan and applies
// configuration changes, all from a single goroutine that owns the session.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"kbtest/internal/input"
	"kbtest/internal/layout"
	"kbtest/internal/logging"
	"kbtest/internal/report"
	"kbtest/internal/session"
)

// DefaultTickInterval is the stuck-key scan cadence.
const DefaultTickInterval = 250 * time.Millisecond

// Result is the outcome of a run.
type Result struct {
	Report *report.Report

	// Capture is the input replayable as a hex capture. It is nil unless
	// capture recording was requested.
	Capture []byte
}

// Runner drives one session from one source. A Runner is used once.
type Runner struct {
	source  input.Source
	session *session.Session
	layout  *layout.Layout
	device  string
	id      string

	tick    time.Duration
	replay  bool
	capture bool
	clock   func() time.Time
	logger  *slog.Logger
	watcher *input.Watcher

	reconfigure chan session.Config
	recorded    []input.Chunk
	nextTick    time.Time
	lastAt      time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLayout sets the layout used for the coverage section of the report.
func WithLayout(l *layout.Layout) Option {
	return func(r *Runner) { r.layout = l }
}

// WithDevice records the device under test in the report.
func WithDevice(device string) Option {
	return func(r *Runner) { r.device = device }
}

// WithID sets the report id. A fresh UUID is used otherwise.
func WithID(id string) Option {
	return func(r *Runner) { r.id = id }
}

// WithTickInterval sets the stuck-key scan cadence.
func WithTickInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithReplayTiming drives the stuck-key scan from chunk timestamps instead
// of the wall clock, so a replayed capture produces the anomalies it
// produced live.
func WithReplayTiming() Option {
	return func(r *Runner) { r.replay = true }
}

// WithCapture keeps every chunk so the run can be stored and replayed.
func WithCapture() Option {
	return func(r *Runner) { r.capture = true }
}

// WithClock sets the clock for live ticks and the end of the session.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.clock = now }
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithWatcher logs keyboards connecting and disconnecting during the run.
func WithWatcher(w *input.Watcher) Option {
	return func(r *Runner) { r.watcher = w }
}

// New creates a runner feeding source into s.
func New(source input.Source, s *session.Session, opts ...Option) *Runner {
	r := &Runner{
		source:      source,
		session:     s,
		tick:        DefaultTickInterval,
		clock:       time.Now,
		logger:      logging.Discard(),
		reconfigure: make(chan session.Config, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconfigure hands new thresholds to the running session. It is safe to
// call from any goroutine; a pending update not yet applied is replaced.
func (r *Runner) Reconfigure(cfg session.Config) {
	for {
		select {
		case r.reconfigure <- cfg:
			return
		default:
		}
		select {
		case <-r.reconfigure:
		default:
		}
	}
}

type readResult struct {
	chunk input.Chunk
	err   error
}

// Run processes input until the source is exhausted, the exit chord is
// pressed or ctx is done, then ends the session and builds the report. The
// source is closed before Run returns.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan readResult)
	go r.pump(ctx, chunks)

	var wg sync.WaitGroup
	if r.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.watch(ctx)
		}()
	}

	var tickC <-chan time.Time
	if !r.replay {
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	r.logger.Info("capture started",
		"table", r.session.Table().Name(),
		"device", r.device,
		"tick", r.tick,
		"replay", r.replay)

	reason, err := r.loop(ctx, chunks, tickC)
	cancel()
	if cerr := r.source.Close(); cerr != nil {
		r.logger.Warn("close input source", "error", cerr)
	}
	wg.Wait()
	if err != nil {
		return nil, err
	}

	end := r.clock()
	if r.replay {
		end = r.replayEnd(reason)
		r.tickUntil(end)
	}
	r.session.End(end)

	rep := report.Build(r.id, r.session, r.layout)
	rep.ExitReason = reason
	rep.Device = r.device

	res := &Result{Report: rep}
	if r.capture {
		var buf bytes.Buffer
		if err := input.WriteHex(&buf, r.recorded, r.session.Stats().EndedAt); err != nil {
			return nil, fmt.Errorf("encode capture: %w", err)
		}
		res.Capture = buf.Bytes()
	}

	r.logger.Info("capture finished",
		"id", rep.ID,
		"reason", reason,
		"bytes", rep.Stats.Bytes,
		"anomalies", rep.AnomalyCount())
	return res, nil
}

func (r *Runner) loop(ctx context.Context, chunks <-chan readResult, tickC <-chan time.Time) (string, error) {
	for {
		// A pending configuration applies before the next chunk.
		select {
		case cfg := <-r.reconfigure:
			r.apply(cfg)
		default:
		}

		select {
		case <-ctx.Done():
			return report.ExitCanceled, nil

		case res := <-chunks:
			if res.err != nil {
				switch {
				case errors.Is(res.err, io.EOF):
					return report.ExitEOF, nil
				case ctx.Err() != nil:
					return report.ExitCanceled, nil
				default:
					return "", fmt.Errorf("read input: %w", res.err)
				}
			}
			r.ingest(res.chunk)
			if r.session.ExitRequested() {
				return report.ExitChord, nil
			}

		case <-tickC:
			r.session.Tick(r.clock())

		case cfg := <-r.reconfigure:
			r.apply(cfg)
		}
	}
}

func (r *Runner) apply(cfg session.Config) {
	if err := r.session.Reconfigure(cfg); err != nil {
		r.logger.Warn("configuration change rejected", "error", err)
	}
}

func (r *Runner) ingest(c input.Chunk) {
	if r.capture {
		r.recorded = append(r.recorded, input.Chunk{Data: bytes.Clone(c.Data), At: c.At})
	}
	if r.replay {
		r.tickUntil(c.At)
	}
	r.lastAt = c.At
	_, anomalies := r.session.IngestAt(c.Data, c.At)
	if len(anomalies) > 0 {
		r.logger.Debug("chunk produced anomalies", "count", len(anomalies))
	}
}

// replayEnd is the capture time at which a replay stops. An exhausted source
// that tracks its own clock supplies the end, trailing delays included.
func (r *Runner) replayEnd(reason string) time.Time {
	end := r.lastAt
	if reason == report.ExitEOF {
		if er, ok := r.source.(input.EndReporter); ok {
			if at, ok := er.End(); ok && at.After(end) {
				end = at
			}
		}
	}
	if end.IsZero() {
		end = r.session.Stats().StartedAt
	}
	return end
}

// tickUntil runs the scans a live run would have run up to at.
func (r *Runner) tickUntil(at time.Time) {
	if r.nextTick.IsZero() {
		r.nextTick = at.Add(r.tick)
		return
	}
	for !r.nextTick.After(at) {
		r.session.Tick(r.nextTick)
		r.nextTick = r.nextTick.Add(r.tick)
	}
}

func (r *Runner) pump(ctx context.Context, out chan<- readResult) {
	for {
		c, err := r.source.Read(ctx)
		select {
		case out <- readResult{chunk: c, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) watch(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.watcher.Run(ctx, func(k []input.Keyboard) {
			r.logger.Info("keyboards present", "count", len(k))
		}); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("device watcher stopped", "error", err)
		}
	}()

	for ev := range r.watcher.Events() {
		if ev.Kind == input.Disconnected && r.device != "" && ev.Keyboard.EventPath == r.device {
			r.logger.Warn("device under test disconnected", "device", r.device, "name", ev.Keyboard.Name)
			continue
		}
		r.logger.Info("keyboard "+ev.Kind.String(), "name", ev.Keyboard.Name, "path", ev.Keyboard.EventPath)
	}
	<-done
}
