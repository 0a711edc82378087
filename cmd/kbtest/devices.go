package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kbtest/internal/input"
)

// DevicesCmd lists keyboards and optionally follows hotplug.
type DevicesCmd struct {
	Watch bool `short:"w" help:"Keep running and report keyboards as they connect and disconnect."`
	Evdev bool `help:"Probe evdev nodes instead of reading /proc/bus/input/devices."`
	JSON  bool `help:"Print the list as JSON."`
}

// Run is called by kong for "kbtest devices".
func (c *DevicesCmd) Run(app *App, logger *slog.Logger) error {
	list := input.ListKeyboards
	if c.Evdev {
		list = input.EvdevKeyboards
	}

	if !c.Watch {
		keyboards, err := list()
		if err != nil {
			return err
		}
		if c.JSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(keyboards)
		}
		printKeyboards(os.Stdout, keyboards)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := input.NewWatcher(
		input.WithLister(list),
		input.WithPollInterval(app.Config.PollInterval()),
		input.WithWatchLogger(componentLogger(logger, "hotplug")),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx, func(k []input.Keyboard) {
			printKeyboards(os.Stdout, k)
			fmt.Println()
			fmt.Println("Watching for changes (Ctrl+C to stop)...")
		})
	}()

	for ev := range w.Events() {
		fmt.Printf("%s  %-12s %s  %s\n",
			time.Now().Format("15:04:05"), ev.Kind, ev.Keyboard.EventPath, ev.Keyboard)
	}

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printKeyboards(w io.Writer, keyboards []input.Keyboard) {
	if len(keyboards) == 0 {
		fmt.Fprintln(w, "No keyboards found.")
		return
	}
	fmt.Fprintf(w, "%-20s %-10s %-9s %-20s %s\n", "DEVICE", "BUS", "ID", "VENDOR", "NAME")
	for _, k := range keyboards {
		vendor := k.Vendor
		if vendor == "" {
			vendor = "-"
		}
		path := k.EventPath
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(w, "%-20s %-10s %04x:%04x %-20s %s\n",
			path, k.Connection, k.VendorID, k.ProductID, vendor, k.Name)
	}
}
