package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SaveConfig saves the configuration to a file. The format follows the file
// extension and defaults to a commented TOML template.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Encode renders the configuration as toml, json or yaml.
func Encode(cfg *Config, format string) ([]byte, error) {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml":
		return yaml.Marshal(cfg)
	case "toml", "":
		return []byte(generateTOML(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q (supported: %s)",
			format, strings.Join(SupportedConfigFormats(), ", "))
	}
}

// generateTOML generates a commented TOML configuration file.
func generateTOML(cfg *Config) string {
	return fmt.Sprintf(`# kbtest configuration
version = %d

[decoder]
# Keymap file (toml, yaml or json). Empty uses scancode set 1.
keymap_path = %q
# Overrides the keymap's extended prefix bytes when non-empty.
extended_prefix_bytes = %s
max_sequence_length = %d

[tracker]
# A second Down of the same key sooner than this is contact bounce.
debounce_threshold_ms = %d

[detector]
# A key held longer than this is reported as stuck, once per interval.
stuck_key_threshold_ms = %d
tick_interval_ms = %d

[session]
# Pressing exit_key exit_presses times in a row ends the session (0 disables).
exit_key = %q
exit_presses = %d
# Coverage layout: full, tkl or main.
layout = %q

[input]
# console, evdev, file or stdin
source = %q
device = %q
# Capture format for file and stdin: hex or bin.
format = %q
grab = %t
hotplug = %t
poll_interval_sec = %d

[storage]
enabled = %t
path = %q
busy_timeout_ms = %d

[logging]
# trace, debug, info, warn or error
level = %q
format = %q
# stdout, stderr, file or both
output = %q
file_path = %q
# Hex dump of every ingested chunk; empty disables.
raw_file = %q
max_size_mb = %d
max_backups = %d
max_age_days = %d
compress = %t

[report]
# text or json
format = %q
`,
		cfg.Version,
		cfg.Decoder.KeymapPath,
		toTOMLByteArray(cfg.Decoder.ExtendedPrefixBytes),
		cfg.Decoder.MaxSequenceLength,
		cfg.Tracker.DebounceThresholdMs,
		cfg.Detector.StuckKeyThresholdMs,
		cfg.Detector.TickIntervalMs,
		cfg.Session.ExitKey,
		cfg.Session.ExitPresses,
		cfg.Session.Layout,
		cfg.Input.Source,
		cfg.Input.Device,
		cfg.Input.Format,
		cfg.Input.Grab,
		cfg.Input.Hotplug,
		cfg.Input.PollIntervalSec,
		cfg.Storage.Enabled,
		cfg.Storage.Path,
		cfg.Storage.BusyTimeoutMs,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.FilePath,
		cfg.Logging.RawFile,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		cfg.Report.Format,
	)
}

// toTOMLByteArray formats byte values as a TOML array of hex integers.
func toTOMLByteArray(items []int) string {
	if len(items) == 0 {
		return "[]"
	}
	parts := make([]string, len(items))
	for i, v := range items {
		parts[i] = fmt.Sprintf("0x%02X", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
