package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kbtest/internal/keyboard"
	"kbtest/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether any error concerns field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateDecoder(&c.Decoder)...)
	errs = append(errs, validateThresholds(&c.Tracker, &c.Detector)...)
	errs = append(errs, validateSession(&c.Session)...)
	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateReport(&c.Report)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDecoder(d *DecoderConfig) ValidationErrors {
	var errs ValidationErrors

	if d.KeymapPath != "" {
		if _, err := os.Stat(expandPath(d.KeymapPath)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "decoder.keymap_path",
				Message: fmt.Sprintf("keymap not readable: %v", err),
			})
		}
	}

	for i, b := range d.ExtendedPrefixBytes {
		if b < 0 || b > 0xFF {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("decoder.extended_prefix_bytes[%d]", i),
				Message: fmt.Sprintf("%d is not a byte value", b),
			})
		}
	}

	if d.MaxSequenceLength < 1 || d.MaxSequenceLength > 16 {
		errs = append(errs, ValidationError{
			Field:   "decoder.max_sequence_length",
			Message: "max sequence length must be between 1 and 16",
		})
	}

	return errs
}

func validateThresholds(t *TrackerConfig, d *DetectorConfig) ValidationErrors {
	var errs ValidationErrors

	if t.DebounceThresholdMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "tracker.debounce_threshold_ms",
			Message: "debounce threshold cannot be negative",
		})
	}

	if d.StuckKeyThresholdMs < 1 {
		errs = append(errs, ValidationError{
			Field:   "detector.stuck_key_threshold_ms",
			Message: "stuck-key threshold must be at least 1ms",
		})
	} else if d.StuckKeyThresholdMs <= t.DebounceThresholdMs {
		errs = append(errs, ValidationError{
			Field:   "detector.stuck_key_threshold_ms",
			Message: "stuck-key threshold must exceed the debounce threshold",
		})
	}

	if d.TickIntervalMs < 10 {
		errs = append(errs, ValidationError{
			Field:   "detector.tick_interval_ms",
			Message: "tick interval must be at least 10ms",
		})
	}

	return errs
}

func validateSession(s *SessionConfig) ValidationErrors {
	var errs ValidationErrors

	if s.ExitPresses < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.exit_presses",
			Message: "exit presses cannot be negative",
		})
	}
	if s.ExitPresses > 0 {
		if _, ok := keyboard.LookupKey(s.ExitKey); !ok {
			errs = append(errs, ValidationError{
				Field:   "session.exit_key",
				Message: fmt.Sprintf("unknown key name: %s", s.ExitKey),
			})
		}
	}

	switch s.Layout {
	case "full", "tkl", "main":
	default:
		errs = append(errs, ValidationError{
			Field:   "session.layout",
			Message: fmt.Sprintf("invalid layout: %s (valid: full, tkl, main)", s.Layout),
		})
	}

	return errs
}

func validateInput(i *InputConfig) ValidationErrors {
	var errs ValidationErrors

	switch i.Source {
	case "console", "evdev", "stdin":
	case "file":
		if i.Device == "" {
			errs = append(errs, ValidationError{
				Field:   "input.device",
				Message: "a capture file is required when source is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "input.source",
			Message: fmt.Sprintf("invalid source: %s (valid: console, evdev, file, stdin)", i.Source),
		})
	}

	switch i.Format {
	case "hex", "bin":
	default:
		errs = append(errs, ValidationError{
			Field:   "input.format",
			Message: fmt.Sprintf("invalid capture format: %s (valid: hex, bin)", i.Format),
		})
	}

	if i.PollIntervalSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "input.poll_interval_sec",
			Message: "poll interval must be at least 1 second",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if !s.Enabled {
		return errs
	}

	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "storage path is required when storage is enabled",
		})
	} else if dir := filepath.Dir(expandPath(s.Path)); dir != "" {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			errs = append(errs, ValidationError{
				Field:   "storage.path",
				Message: "parent path is not a directory",
			})
		}
	}

	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: trace, debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output writes to a file",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateReport(r *ReportConfig) ValidationErrors {
	var errs ValidationErrors

	switch r.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "report.format",
			Message: fmt.Sprintf("invalid report format: %s (valid: text, json)", r.Format),
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
