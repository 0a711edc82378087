// Package config handles configuration loading, validation, and management for kbtest.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"kbtest/internal/keyboard"
	"kbtest/internal/logging"
	"kbtest/internal/scancode"
	"kbtest/internal/session"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete kbtest configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Decoder configuration: which scancode table to decode with.
	Decoder DecoderConfig `toml:"decoder" json:"decoder" yaml:"decoder"`

	// Tracker configuration.
	Tracker TrackerConfig `toml:"tracker" json:"tracker" yaml:"tracker"`

	// Detector configuration for the periodic stuck-key scan.
	Detector DetectorConfig `toml:"detector" json:"detector" yaml:"detector"`

	// Session configuration.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Input configuration: where scancode bytes come from.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	// Storage configuration for the session database.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Report configuration.
	Report ReportConfig `toml:"report" json:"report" yaml:"report"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// DecoderConfig selects and adjusts the scancode table.
type DecoderConfig struct {
	// KeymapPath is a TOML, YAML or JSON keymap. Empty selects scancode set 1.
	KeymapPath string `toml:"keymap_path" json:"keymap_path" yaml:"keymap_path"`

	// ExtendedPrefixBytes overrides the table's extended prefix bytes.
	ExtendedPrefixBytes []int `toml:"extended_prefix_bytes" json:"extended_prefix_bytes" yaml:"extended_prefix_bytes"`

	// MaxSequenceLength bounds a pending multi-byte sequence.
	MaxSequenceLength int `toml:"max_sequence_length" json:"max_sequence_length" yaml:"max_sequence_length"`
}

// TrackerConfig holds key state tracker settings.
type TrackerConfig struct {
	// DebounceThresholdMs is the minimum gap between two Down transitions of
	// one key for the second to count as auto-repeat rather than bounce.
	DebounceThresholdMs int `toml:"debounce_threshold_ms" json:"debounce_threshold_ms" yaml:"debounce_threshold_ms"`
}

// DetectorConfig holds anomaly detector settings.
type DetectorConfig struct {
	// StuckKeyThresholdMs is how long a key may be held before it is reported.
	StuckKeyThresholdMs int `toml:"stuck_key_threshold_ms" json:"stuck_key_threshold_ms" yaml:"stuck_key_threshold_ms"`

	// TickIntervalMs is the stuck-key scan cadence.
	TickIntervalMs int `toml:"tick_interval_ms" json:"tick_interval_ms" yaml:"tick_interval_ms"`
}

// SessionConfig holds interactive session settings.
type SessionConfig struct {
	// ExitKey is the key name of the exit chord (e.g. "LeftCtrl").
	ExitKey string `toml:"exit_key" json:"exit_key" yaml:"exit_key"`

	// ExitPresses consecutive presses of ExitKey end the session. 0 disables.
	ExitPresses int `toml:"exit_presses" json:"exit_presses" yaml:"exit_presses"`

	// Layout is the keyboard layout used for coverage: full, tkl or main.
	Layout string `toml:"layout" json:"layout" yaml:"layout"`
}

// InputConfig selects the byte source.
type InputConfig struct {
	// Source is "console", "evdev", "file" or "stdin".
	Source string `toml:"source" json:"source" yaml:"source"`

	// Device is the tty, evdev node or capture file, depending on Source.
	Device string `toml:"device" json:"device" yaml:"device"`

	// Format is the capture format for file and stdin sources: "hex" or "bin".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Grab takes exclusive access of an evdev device.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`

	// Hotplug logs keyboards connecting and disconnecting during a run.
	Hotplug bool `toml:"hotplug" json:"hotplug" yaml:"hotplug"`

	// PollIntervalSec is the device polling fallback interval.
	PollIntervalSec int `toml:"poll_interval_sec" json:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Enabled stores every finished session.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// RawFile receives a hex dump of every ingested chunk.
	RawFile string `toml:"raw_file" json:"raw_file" yaml:"raw_file"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// ReportConfig holds report rendering settings.
type ReportConfig struct {
	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Decoder: DecoderConfig{
			MaxSequenceLength: scancode.DefaultMaxSequenceLength,
		},
		Tracker: TrackerConfig{
			DebounceThresholdMs: 5,
		},
		Detector: DetectorConfig{
			StuckKeyThresholdMs: 3000,
			TickIntervalMs:      250,
		},
		Session: SessionConfig{
			ExitKey:     "LeftCtrl",
			ExitPresses: session.DefaultExitPresses,
			Layout:      "full",
		},
		Input: InputConfig{
			Source:          "console",
			Format:          "hex",
			Grab:            false,
			Hotplug:         true,
			PollIntervalSec: 2,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          filepath.Join(PlatformDataDir(), "sessions.db"),
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Report: ReportConfig{
			Format: "text",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with KBTEST_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Decoder overrides
	if v := os.Getenv("KBTEST_KEYMAP"); v != "" {
		c.Decoder.KeymapPath = v
	}

	// Threshold overrides; unparsable values are left to the file or default
	if v, ok := envInt("KBTEST_DEBOUNCE_MS"); ok {
		c.Tracker.DebounceThresholdMs = v
	}
	if v, ok := envInt("KBTEST_STUCK_MS"); ok {
		c.Detector.StuckKeyThresholdMs = v
	}

	// Input overrides
	if v := os.Getenv("KBTEST_INPUT_SOURCE"); v != "" {
		c.Input.Source = v
	}
	if v := os.Getenv("KBTEST_DEVICE"); v != "" {
		c.Input.Device = v
	}

	// Storage overrides
	if v := os.Getenv("KBTEST_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	// Logging overrides
	if v := os.Getenv("KBTEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KBTEST_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("KBTEST_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version: c.Version,
		Decoder: DecoderConfig{
			KeymapPath:          c.Decoder.KeymapPath,
			ExtendedPrefixBytes: append([]int{}, c.Decoder.ExtendedPrefixBytes...),
			MaxSequenceLength:   c.Decoder.MaxSequenceLength,
		},
		Tracker:  c.Tracker,
		Detector: c.Detector,
		Session:  c.Session,
		Input:    c.Input,
		Storage:  c.Storage,
		Logging:  c.Logging,
		Report:   c.Report,
	}
}

// Debounce returns the tracker debounce threshold.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Tracker.DebounceThresholdMs) * time.Millisecond
}

// StuckThreshold returns the stuck-key threshold.
func (c *Config) StuckThreshold() time.Duration {
	return time.Duration(c.Detector.StuckKeyThresholdMs) * time.Millisecond
}

// TickInterval returns the stuck-key scan cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Detector.TickIntervalMs) * time.Millisecond
}

// PollInterval returns the device polling fallback interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Input.PollIntervalSec) * time.Second
}

// StoragePath returns the database path with a leading ~ expanded.
func (c *Config) StoragePath() string {
	return expandPath(c.Storage.Path)
}

// BusyTimeout returns the SQLite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Storage.BusyTimeoutMs) * time.Millisecond
}

// SessionConfig maps the configuration onto session thresholds.
func (c *Config) SessionConfig() (session.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	exitKey, ok := keyboard.LookupKey(c.Session.ExitKey)
	if !ok && c.Session.ExitPresses > 0 {
		return session.Config{}, fmt.Errorf("unknown exit key %q", c.Session.ExitKey)
	}
	return session.Config{
		Debounce:       c.Debounce(),
		StuckThreshold: c.StuckThreshold(),
		ExitKey:        exitKey,
		ExitPresses:    c.Session.ExitPresses,
	}, nil
}

// Table resolves the scancode table: the configured keymap, or set 1, with
// prefix byte and max length overrides applied.
func (c *Config) Table() (*scancode.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	table := scancode.Set1()
	if c.Decoder.KeymapPath != "" {
		t, err := scancode.LoadKeymap(expandPath(c.Decoder.KeymapPath))
		if err != nil {
			return nil, err
		}
		table = t
	}

	var opts []scancode.TableOption
	if len(c.Decoder.ExtendedPrefixBytes) > 0 {
		prefixes := make([]byte, 0, len(c.Decoder.ExtendedPrefixBytes))
		for _, v := range c.Decoder.ExtendedPrefixBytes {
			if v < 0 || v > 0xFF {
				return nil, fmt.Errorf("extended prefix byte %d out of range", v)
			}
			prefixes = append(prefixes, byte(v))
		}
		opts = append(opts, scancode.WithExtendedPrefixes(prefixes...))
	}
	if n := c.Decoder.MaxSequenceLength; n > 0 && n != table.MaxSequenceLength() {
		opts = append(opts, scancode.WithMaxSequenceLength(n))
	}
	if len(opts) == 0 {
		return table, nil
	}
	return table.With(opts...)
}

// LogConfig maps the logging section onto a logging.Config.
func (c *Config) LogConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Logging.Output,
		FilePath:   expandPath(c.Logging.FilePath),
		MaxSizeMB:  int64(c.Logging.MaxSizeMB),
		MaxAgeDays: c.Logging.MaxAgeDays,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
		Component:  "kbtest",
	}, nil
}

// EnsureDirectories creates the directories for the database and log files.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(expandPath(c.Storage.Path)),
		filepath.Dir(expandPath(c.Logging.FilePath)),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
