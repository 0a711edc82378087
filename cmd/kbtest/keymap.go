package main

import (
	"fmt"
	"log/slog"
	"os"

	"kbtest/internal/keyboard"
	"kbtest/internal/scancode"
)

// KeymapCmd groups keymap subcommands.
type KeymapCmd struct {
	Dump  KeymapDumpCmd  `cmd:"" help:"Write a keymap file for the built-in set 1 table or a loaded keymap."`
	Check KeymapCheckCmd `cmd:"" help:"Validate a keymap file."`
}

// KeymapDumpCmd writes a keymap so it can be edited.
type KeymapDumpCmd struct {
	Keymap string `help:"Keymap to re-encode instead of scancode set 1." type:"existingfile"`
	Format string `help:"Output format: toml, yaml or json." enum:"toml,yaml,json" default:"toml"`
	Output string `short:"o" help:"Destination file (defaults to stdout)." type:"path"`
}

// Run is called by kong for "kbtest keymap dump".
func (c *KeymapDumpCmd) Run(logger *slog.Logger) error {
	table := scancode.Set1()
	if c.Keymap != "" {
		t, err := scancode.LoadKeymap(c.Keymap)
		if err != nil {
			return err
		}
		table = t
	}

	out := os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("create %s: %w", c.Output, err)
		}
		defer f.Close()
		out = f
	}

	if err := scancode.KeymapOf(table).Write(out, c.Format); err != nil {
		return fmt.Errorf("encode keymap: %w", err)
	}
	logger.Debug("keymap written", "table", table.Name(), "entries", table.Len(), "format", c.Format)
	return nil
}

// KeymapCheckCmd loads a keymap and summarizes it.
type KeymapCheckCmd struct {
	File string `arg:"" help:"Keymap file (toml, yaml or json)." type:"existingfile"`
}

// Run is called by kong for "kbtest keymap check".
func (c *KeymapCheckCmd) Run() error {
	table, err := scancode.LoadKeymap(c.File)
	if err != nil {
		return err
	}

	prefixes := table.ExtendedPrefixes()
	fmt.Printf("%s: ok\n", c.File)
	fmt.Printf("  Table:            %s\n", table.Name())
	fmt.Printf("  Entries:          %d\n", table.Len())
	fmt.Printf("  Keys:             %d\n", len(table.Keys()))
	fmt.Printf("  Prefix bytes:     [%s]\n", keyboard.FormatSequence(prefixes))
	fmt.Printf("  Max sequence:     %d\n", table.MaxSequenceLength())
	fmt.Printf("  Ignored:          %d\n", len(table.Ignored()))
	return nil
}
