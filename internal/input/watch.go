package input

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"kbtest/internal/logging"
)

// DevInputDir is where the kernel creates input device nodes.
const DevInputDir = "/dev/input"

const (
	// DefaultPollInterval is how often the watcher rescans without events.
	DefaultPollInterval = 2 * time.Second

	// settleDelay lets udev finish creating a node before rescanning.
	settleDelay = 100 * time.Millisecond
)

// DeviceEventKind is the kind of a hotplug event.
type DeviceEventKind int

const (
	Connected DeviceEventKind = iota
	Disconnected
)

// String returns the event kind as a string.
func (k DeviceEventKind) String() string {
	if k == Disconnected {
		return "disconnected"
	}
	return "connected"
}

// DeviceEvent reports a keyboard appearing or disappearing.
type DeviceEvent struct {
	Keyboard Keyboard
	Kind     DeviceEventKind
}

// Watcher reports keyboard hotplug. It watches the device directory with
// fsnotify and also rescans on a fixed interval, so it keeps working where
// inotify is unavailable.
type Watcher struct {
	dir    string
	list   func() ([]Keyboard, error)
	poll   time.Duration
	settle time.Duration
	logger *slog.Logger
	events chan DeviceEvent
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDir sets the directory watched for device nodes.
func WithWatchDir(dir string) WatcherOption {
	return func(w *Watcher) { w.dir = dir }
}

// WithLister sets the function that enumerates keyboards.
func WithLister(list func() ([]Keyboard, error)) WatcherOption {
	return func(w *Watcher) { w.list = list }
}

// WithPollInterval sets the rescan interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a hotplug watcher over ListKeyboards and /dev/input.
func NewWatcher(opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:    DevInputDir,
		list:   ListKeyboards,
		poll:   DefaultPollInterval,
		settle: settleDelay,
		logger: logging.Discard(),
		events: make(chan DeviceEvent, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the hotplug event channel. It is closed when Run returns.
func (w *Watcher) Events() <-chan DeviceEvent {
	return w.events
}

// Run watches until ctx is done. It returns the initial device list through
// initial before emitting any event.
func (w *Watcher) Run(ctx context.Context, initial func([]Keyboard)) error {
	defer close(w.events)

	known, err := w.list()
	if err != nil {
		w.logger.Warn("initial keyboard scan failed", "error", err)
	}
	if initial != nil {
		initial(known)
	}

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(w.dir); err == nil {
			defer watcher.Close()
			fsEvents = watcher.Events
			fsErrors = watcher.Errors
		} else {
			watcher.Close()
		}
	}
	if err != nil {
		w.logger.Info("device directory not watchable, polling only", "dir", w.dir, "error", err)
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var settle <-chan time.Time
	var alive bool
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if !strings.Contains(ev.Name, "event") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if settle == nil {
				settle = time.After(w.settle)
			}

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.logger.Warn("device watch error", "error", err)

		case <-settle:
			settle = nil
			if known, alive = w.rescan(ctx, known); !alive {
				return ctx.Err()
			}

		case <-ticker.C:
			if known, alive = w.rescan(ctx, known); !alive {
				return ctx.Err()
			}
		}
	}
}

// rescan emits the differences against known and returns the new list. It
// reports false when ctx ended while emitting.
func (w *Watcher) rescan(ctx context.Context, known []Keyboard) ([]Keyboard, bool) {
	cur, err := w.list()
	if err != nil {
		w.logger.Debug("keyboard rescan failed", "error", err)
		return known, true
	}

	added, removed := diffKeyboards(known, cur)
	for _, k := range removed {
		if !w.emit(ctx, DeviceEvent{Keyboard: k, Kind: Disconnected}) {
			return cur, false
		}
	}
	for _, k := range added {
		if !w.emit(ctx, DeviceEvent{Keyboard: k, Kind: Connected}) {
			return cur, false
		}
	}
	return cur, true
}

func (w *Watcher) emit(ctx context.Context, ev DeviceEvent) bool {
	w.logger.Info("keyboard "+ev.Kind.String(), "name", ev.Keyboard.Name, "path", ev.Keyboard.EventPath)
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
