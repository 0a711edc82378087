package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"kbtest/internal/config"
	"kbtest/internal/input"
	"kbtest/internal/keyboard"
	"kbtest/internal/layout"
	"kbtest/internal/report"
	"kbtest/internal/runner"
	"kbtest/internal/scancode"
	"kbtest/internal/session"
	"kbtest/internal/store"
)

// RunCmd tests a keyboard live.
type RunCmd struct {
	Source  string `help:"Input source: console, evdev, file or stdin."`
	Device  string `short:"d" help:"Console tty, evdev node or capture file."`
	Format  string `help:"Capture format for file and stdin: hex or bin."`
	Grab    bool   `help:"Grab the evdev device so key presses reach no other program."`
	Keymap  string `help:"Keymap file replacing scancode set 1." type:"path"`
	Layout  string `help:"Layout for the coverage report: full, tkl or main."`
	NoStore bool   `help:"Do not save the session."`
	Save    string `help:"Also write the captured bytes to this hex capture file." type:"path"`
	JSON    bool   `help:"Print the report as JSON."`
}

// Run is called by kong for "kbtest run".
func (c *RunCmd) Run(app *App, logger *slog.Logger) error {
	cfg := app.Config.Clone()
	if c.Source != "" {
		cfg.Input.Source = c.Source
	}
	if c.Device != "" {
		cfg.Input.Device = c.Device
	}
	if c.Format != "" {
		cfg.Input.Format = c.Format
	}
	if c.Grab {
		cfg.Input.Grab = true
	}
	if c.Keymap != "" {
		cfg.Decoder.KeymapPath = c.Keymap
	}
	if c.Layout != "" {
		cfg.Session.Layout = c.Layout
	}
	if c.NoStore {
		cfg.Storage.Enabled = false
	}
	if c.JSON {
		cfg.Report.Format = "json"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := cfg.Input.Source == "console" || cfg.Input.Source == "evdev"
	opts := captureOptions{
		live:      live,
		watchConf: true,
		savePath:  c.Save,
	}
	if live {
		opts.echo = os.Stderr
	}
	return capture(ctx, app, cfg, logger, opts)
}

// ReplayCmd decodes a recorded capture offline.
type ReplayCmd struct {
	File   string `arg:"" help:"Capture file, or - for stdin."`
	Format string `help:"Capture format: hex or bin." default:"hex"`
	Keymap string `help:"Keymap file replacing scancode set 1." type:"path"`
	Layout string `help:"Layout for the coverage report: full, tkl or main."`
	Store  bool   `help:"Save the replayed session."`
	JSON   bool   `help:"Print the report as JSON."`
}

// Run is called by kong for "kbtest replay".
func (c *ReplayCmd) Run(app *App, logger *slog.Logger) error {
	cfg := app.Config.Clone()
	cfg.Input.Source = "file"
	cfg.Input.Device = c.File
	if c.File == "-" {
		cfg.Input.Source = "stdin"
	}
	cfg.Input.Format = c.Format
	cfg.Input.Hotplug = false
	cfg.Storage.Enabled = c.Store
	if c.Keymap != "" {
		cfg.Decoder.KeymapPath = c.Keymap
	}
	if c.Layout != "" {
		cfg.Session.Layout = c.Layout
	}
	if c.JSON {
		cfg.Report.Format = "json"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return capture(ctx, app, cfg, logger, captureOptions{})
}

type captureOptions struct {
	live      bool
	watchConf bool
	savePath  string
	out       io.Writer
	// echo receives one line per key press while the capture runs.
	echo io.Writer
}

// capture runs one session from the configured source, then stores and
// prints its report.
func capture(ctx context.Context, app *App, cfg *config.Config, logger *slog.Logger, opts captureOptions) error {
	table, err := cfg.Table()
	if err != nil {
		return fmt.Errorf("load scancode table: %w", err)
	}
	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return err
	}

	var lay *layout.Layout
	if cfg.Session.Layout != "" {
		if lay, err = layout.Lookup(cfg.Session.Layout); err != nil {
			return err
		}
	}

	src, device, err := openSource(cfg, table, logger)
	if err != nil {
		return err
	}

	sopts := []session.Option{
		session.WithLogger(componentLogger(logger, "session")),
		session.WithRawLogger(app.Raw),
	}
	if opts.echo != nil {
		sopts = append(sopts, session.WithEventHook(pressEcho(opts.echo, table, device)))
	}
	sess, err := session.New(sessCfg, table, sopts...)
	if err != nil {
		src.Close()
		return err
	}

	ropts := []runner.Option{
		runner.WithDevice(device),
		runner.WithLayout(lay),
		runner.WithTickInterval(cfg.TickInterval()),
		runner.WithLogger(componentLogger(logger, "runner")),
	}
	if !opts.live {
		ropts = append(ropts, runner.WithReplayTiming())
	}
	if cfg.Storage.Enabled || opts.savePath != "" {
		ropts = append(ropts, runner.WithCapture())
	}
	if opts.live && cfg.Input.Hotplug && runtime.GOOS == "linux" {
		ropts = append(ropts, runner.WithWatcher(input.NewWatcher(
			input.WithPollInterval(cfg.PollInterval()),
			input.WithWatchLogger(componentLogger(logger, "hotplug")),
		)))
	}
	r := runner.New(src, sess, ropts...)

	if opts.watchConf {
		loader := config.NewLoader(app.ConfigPath)
		loader.OnChange(func(next *config.Config) {
			sc, err := next.SessionConfig()
			if err != nil {
				logger.Warn("ignoring configuration change", "error", err)
				return
			}
			logger.Info("configuration reloaded", "path", app.ConfigPath)
			r.Reconfigure(sc)
		})
		if err := loader.Watch(); err != nil {
			logger.Debug("configuration not watched", "path", app.ConfigPath, "error", err)
		} else {
			defer loader.Close()
		}
	}

	if opts.live {
		if sessCfg.ExitPresses > 0 {
			fmt.Fprintf(os.Stderr, "Testing %s. Press %s %d times in a row to finish.\r\n",
				device, table.KeyName(sessCfg.ExitKey), sessCfg.ExitPresses)
		} else {
			fmt.Fprintf(os.Stderr, "Testing %s. Interrupt to finish.\r\n", device)
		}
	}

	res, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if opts.savePath != "" {
		if err := os.WriteFile(opts.savePath, res.Capture, 0o644); err != nil {
			return fmt.Errorf("write capture: %w", err)
		}
		logger.Info("capture written", "path", opts.savePath, "bytes", len(res.Capture))
	}

	if cfg.Storage.Enabled {
		if err := saveReport(cfg, res, logger); err != nil {
			logger.Error("session not stored", "error", err)
		}
	}

	out := opts.out
	if out == nil {
		out = os.Stdout
	}
	return printReport(out, res.Report, cfg.Report.Format)
}

// pressEcho prints each key press with its running count, mirroring the last
// pressed key line of an interactive tester. Lines end in CRLF because the
// console source leaves the terminal in raw mode.
func pressEcho(w io.Writer, table *scancode.Table, device string) func(keyboard.KeyEvent) {
	var n int
	return func(ev keyboard.KeyEvent) {
		if ev.Kind != keyboard.Pressed {
			return
		}
		n++
		fmt.Fprintf(w, "%5d  %-14s %s\r\n", n, table.KeyName(ev.Key), device)
	}
}

// openSource opens the configured input and names the device for the report.
func openSource(cfg *config.Config, table *scancode.Table, logger *slog.Logger) (input.Source, string, error) {
	format, err := input.ParseFormat(cfg.Input.Format)
	if err != nil {
		return nil, "", err
	}

	switch cfg.Input.Source {
	case "console":
		src, err := input.OpenConsole(cfg.Input.Device)
		if err != nil {
			return nil, "", err
		}
		device := cfg.Input.Device
		if device == "" {
			device = input.DefaultConsole
		}
		return src, device, nil

	case "evdev":
		device := cfg.Input.Device
		if device == "" {
			device, err = firstKeyboard()
			if err != nil {
				return nil, "", err
			}
		}
		src, err := input.OpenEvdev(device, table, cfg.Input.Grab,
			input.WithEvdevLogger(componentLogger(logger, "evdev")))
		if err != nil {
			return nil, "", err
		}
		return src, device, nil

	case "file":
		f, err := os.Open(cfg.Input.Device)
		if err != nil {
			return nil, "", fmt.Errorf("open capture: %w", err)
		}
		return input.NewReaderSource(f, format, input.WithCloser(f)), cfg.Input.Device, nil

	case "stdin":
		return input.NewReaderSource(os.Stdin, format), "stdin", nil

	default:
		return nil, "", fmt.Errorf("unknown input source %q", cfg.Input.Source)
	}
}

// firstKeyboard picks the first physical keyboard with an event node.
func firstKeyboard() (string, error) {
	keyboards, err := input.ListKeyboards()
	if err != nil {
		return "", fmt.Errorf("find keyboard: %w", err)
	}
	for _, k := range keyboards {
		if k.EventPath != "" && k.Connection.IsPhysical() {
			return k.EventPath, nil
		}
	}
	for _, k := range keyboards {
		if k.EventPath != "" {
			return k.EventPath, nil
		}
	}
	return "", errors.New("no keyboard found; pass --device")
}

func saveReport(cfg *config.Config, res *runner.Result, logger *slog.Logger) error {
	st, err := store.Open(cfg.StoragePath(), store.WithBusyTimeout(cfg.BusyTimeout()))
	if err != nil {
		return err
	}
	defer st.Close()

	// The run context may already be canceled by the interrupt that ended it.
	if err := st.SaveReport(context.Background(), res.Report, res.Capture); err != nil {
		return err
	}
	logger.Info("session stored", "id", res.Report.ID, "path", st.Path())
	return nil
}

func printReport(w io.Writer, r *report.Report, format string) error {
	if format == "json" {
		return r.WriteJSON(w)
	}
	return r.WriteText(w)
}

