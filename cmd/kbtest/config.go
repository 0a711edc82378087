package main

import (
	"fmt"
	"os"
	"runtime"

	"kbtest/internal/config"
)

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a configuration template."`
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration."`
}

// ConfigInitCmd scaffolds a configuration file.
type ConfigInitCmd struct {
	Format string `help:"Output format." enum:"toml,yaml,json" default:"toml"`
	Output string `help:"Destination file (defaults to the user configuration directory)." type:"path"`
	Force  bool   `help:"Overwrite if the file already exists."`
}

// Run is called by kong for "kbtest config init".
func (c *ConfigInitCmd) Run() error {
	dest := c.Output
	if dest == "" {
		dest = config.ConfigPath()
		if c.Format != "toml" {
			dest = dest[:len(dest)-len(".toml")] + "." + c.Format
		}
	}

	if c.Force {
		if err := config.SaveConfig(config.DefaultConfig(), dest); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", dest)
		return nil
	}

	_, created, err := config.LoadOrCreate(dest)
	if err != nil {
		return fmt.Errorf("%s: %w (use --force to overwrite)", dest, err)
	}
	if !created {
		return fmt.Errorf("%s already exists and is valid; use --force to overwrite", dest)
	}
	fmt.Printf("Wrote %s\n", dest)
	return nil
}

// ConfigShowCmd prints the configuration after files, environment and
// flags have been applied.
type ConfigShowCmd struct {
	Format string `help:"Output format." enum:"toml,yaml,json" default:"toml"`
}

// Run is called by kong for "kbtest config show".
func (c *ConfigShowCmd) Run(app *App) error {
	data, err := config.Encode(app.Config, c.Format)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "# %s\n", app.ConfigPath)
	_, err = os.Stdout.Write(data)
	return err
}

// VersionCmd prints build information.
type VersionCmd struct{}

// Run is called by kong for "kbtest version".
func (c *VersionCmd) Run(app *App) error {
	fmt.Printf("kbtest %s (%s/%s, %s)\n", app.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	return nil
}
