// kbtest diagnoses keyboards from their raw scancode stream.
//
// Usage:
//
//	kbtest run                  Test the keyboard on this console
//	kbtest replay <file>        Decode a recorded capture
//	kbtest devices [--watch]    List keyboards and follow hotplug
//	kbtest sessions list        Show stored sessions
package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"kbtest/internal/config"
	"kbtest/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config  string       `help:"Configuration file (toml, yaml or json)." type:"path" env:"KBTEST_CONFIG"`
	Logging LoggingFlags `embed:"" prefix:"logging-"`
}

// LoggingFlags override the logging section of the configuration.
type LoggingFlags struct {
	Level   string `help:"Log level: trace, debug, info, warn or error."`
	Format  string `help:"Log format: text or json."`
	RawFile string `help:"Append a hex dump of every captured chunk to this file." type:"path"`
}

// CLI is the kbtest command line.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" help:"Test a keyboard interactively."`
	Replay   ReplayCmd   `cmd:"" help:"Decode a recorded capture."`
	Devices  DevicesCmd  `cmd:"" help:"List keyboards attached to this machine."`
	Keymap   KeymapCmd   `cmd:"" help:"Inspect scancode keymaps."`
	Sessions SessionsCmd `cmd:"" help:"Browse stored sessions."`
	Conf     ConfigCmd   `cmd:"" name:"config" help:"Manage the configuration file."`
	Version  VersionCmd  `cmd:"" help:"Print the version."`
}

// App carries the resolved configuration into commands.
type App struct {
	Config     *config.Config
	ConfigPath string
	Raw        logging.RawLogger
	Version    string
}

func main() {
	configPath := findUserConfig(os.Args[1:])
	if configPath == "" {
		configPath = config.FindConfigFile()
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("kbtest"),
		kong.Description("Keyboard scancode diagnostics: stuck keys, bounce, malformed sequences."),
		kong.UsageOnError(),
		// The configuration file also supplies defaults for the global flags.
		configurationFor(configPath),
	)

	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.NewLoader(configPath).Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("kbtest: load config " + configPath + ": " + err.Error() + "\n")
		os.Exit(2)
	}
	cli.Logging.apply(cfg)

	logCfg, err := cfg.LogConfig()
	if err != nil {
		_, _ = os.Stderr.WriteString("kbtest: " + err.Error() + "\n")
		os.Exit(2)
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		_, _ = os.Stderr.WriteString("kbtest: setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}

	var closeFiles []io.Closer
	closeFiles = append(closeFiles, logger)
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	var rawLogger logging.RawLogger
	if cfg.Logging.RawFile != "" {
		f, err := os.OpenFile(cfg.Logging.RawFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Error("failed to open raw log file", "file", cfg.Logging.RawFile, "error", err)
			rawLogger = logging.NewRaw(nil)
		} else {
			rawLogger = logging.NewRaw(f)
			closeFiles = append(closeFiles, f)
		}
	} else if cfg.Logging.Level == "trace" {
		rawLogger = logging.NewRaw(os.Stderr)
	} else {
		rawLogger = logging.NewRaw(nil)
	}

	crash := logging.NewCrashHandler(logging.DefaultCrashDir(), Version, logger.Logger)
	defer crash.Recover(ctx.Command())

	ctx.Bind(logger.Logger)
	ctx.BindTo(rawLogger, (*logging.RawLogger)(nil))
	ctx.Bind(&App{
		Config:     cfg,
		ConfigPath: configPath,
		Raw:        rawLogger,
		Version:    Version,
	})

	err = ctx.Run()
	if err != nil {
		logger.Debug("command failed", "command", ctx.Command(), "error", err)
	}
	ctx.FatalIfErrorf(err)
}

// apply copies non-empty flags over the configuration.
func (f LoggingFlags) apply(cfg *config.Config) {
	if f.Level != "" {
		cfg.Logging.Level = f.Level
	}
	if f.Format != "" {
		cfg.Logging.Format = f.Format
	}
	if f.RawFile != "" {
		cfg.Logging.RawFile = f.RawFile
	}
}

// configurationFor returns the kong resolver matching the file extension.
func configurationFor(path string) kong.Option {
	if path == "" {
		return kong.Configuration(kongtoml.Loader)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kong.Configuration(kong.JSON, path)
	case ".yaml", ".yml":
		return kong.Configuration(kongyaml.Loader, path)
	default:
		return kong.Configuration(kongtoml.Loader, path)
	}
}

func findUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--config=") {
			return a[len("--config="):]
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv("KBTEST_CONFIG"); v != "" {
		return v
	}
	return ""
}

// componentLogger tags a command's logger.
func componentLogger(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("component", name))
}
