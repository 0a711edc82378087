package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"
)

// CrashReport is written to the crash directory when a panic is recovered.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	NumGoroutine int       `json:"num_goroutine"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
	Component    string    `json:"component,omitempty"`
}

// CrashHandler turns panics into crash dumps and an error log record.
type CrashHandler struct {
	dir     string
	version string
	logger  *slog.Logger
}

// NewCrashHandler creates a crash handler writing dumps under dir.
func NewCrashHandler(dir, version string, logger *slog.Logger) *CrashHandler {
	if logger == nil {
		logger = Discard()
	}
	return &CrashHandler{dir: dir, version: version, logger: logger}
}

// DefaultCrashDir returns the crashes directory next to the default log file.
func DefaultCrashDir() string {
	return filepath.Join(filepath.Dir(DefaultLogPath()), "crashes")
}

// Recover must be deferred directly. It records a panic, then re-panics so
// the process still fails loudly.
func (h *CrashHandler) Recover(component string) {
	v := recover()
	if v == nil {
		return
	}
	path, err := h.Handle(v, component)
	if err != nil {
		h.logger.Error("write crash report", "error", err)
	}
	h.logger.Error("panic recovered", "component", component, "panic", fmt.Sprint(v), "report", path)
	panic(v)
}

// Handle writes a crash report for a recovered panic value and returns its path.
func (h *CrashHandler) Handle(v any, component string) (string, error) {
	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprint(v),
		StackTrace:   string(debug.Stack()),
		Component:    component,
	}

	if err := os.MkdirAll(h.dir, 0750); err != nil {
		return "", fmt.Errorf("create crash directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	path := filepath.Join(h.dir, fmt.Sprintf("crash-%s.json", report.Timestamp.Format("20060102-150405.000000")))
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}
