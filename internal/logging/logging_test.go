package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"trace", LevelTrace, false},
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelTrace, "trace"},
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, test := range tests {
		if got := LevelString(test.level); got != test.expected {
			t.Errorf("LevelString(%v) = %q, expected %q", test.level, got, test.expected)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected stderr output, got %s", cfg.Output)
	}
	if !strings.HasSuffix(cfg.FilePath, filepath.Join("kbtest", "kbtest.log")) {
		t.Errorf("unexpected default log path: %s", cfg.FilePath)
	}
}

func TestLoggerFileOutputJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "kbtest.log")
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON
	cfg.Compress = false

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	logger.WithComponent("decoder").Info("unknown scancode", "sequence", "55")
	if err := logger.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if rec["msg"] != "unknown scancode" {
		t.Errorf("unexpected msg: %v", rec["msg"])
	}
	if rec["component"] != "decoder" {
		t.Errorf("expected component decoder, got %v", rec["component"])
	}
	if rec["level"] != "info" {
		t.Errorf("expected level info, got %v", rec["level"])
	}
}

func TestTraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = LevelTrace

	logger := slog.New(NewHandler(&buf, cfg))
	logger.Log(t.Context(), LevelTrace, "raw chunk")

	out := buf.String()
	if !strings.Contains(out, "level=trace") {
		t.Errorf("expected level=trace in %q", out)
	}
	if !strings.Contains(out, "component=kbtest") {
		t.Errorf("expected component attribute in %q", out)
	}
}

func TestDiscard(t *testing.T) {
	if Discard().Enabled(t.Context(), LevelError) {
		t.Error("discard logger should not enable error level")
	}
}

func TestFileRotatorDailyRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "kbtest.log")
	cfg := &Config{
		FilePath:   logPath,
		MaxSizeMB:  1,
		MaxAgeDays: 7,
		MaxBackups: 3,
		Compress:   false,
	}

	rotator, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	day := time.Date(2026, 4, 1, 23, 59, 0, 0, time.UTC)
	rotator.now = func() time.Time { return day }
	rotator.openedAt = day

	if _, err := rotator.Write([]byte("first\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	day = day.Add(2 * time.Minute)
	if _, err := rotator.Write([]byte("second\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	files, err := rotator.RotatedFiles()
	if err != nil {
		t.Fatalf("list rotated files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 rotated file, got %v", files)
	}
	old, _ := os.ReadFile(files[0])
	if string(old) != "first\n" {
		t.Errorf("rotated file content %q", old)
	}
	current, _ := os.ReadFile(logPath)
	if string(current) != "second\n" {
		t.Errorf("current file content %q", current)
	}
}

func TestRawLogger(t *testing.T) {
	var buf bytes.Buffer
	raw := NewRaw(&buf)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	raw.Log(at, []byte{0xE0, 0x48, 0x1E})
	raw.Log(at, nil)

	want := "2026/01/02 03:04:05.000 chunk: 3 bytes, hex: e0 48 1e\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	NewRaw(nil).Log(at, []byte{1})
}

func TestCrashHandler(t *testing.T) {
	dir := t.TempDir()
	h := NewCrashHandler(dir, "test", nil)

	path, err := h.Handle("boom", "runner")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read crash report: %v", err)
	}
	var report CrashReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.PanicValue != "boom" || report.Component != "runner" || report.StackTrace == "" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestCrashHandlerRepanics(t *testing.T) {
	h := NewCrashHandler(t.TempDir(), "test", nil)
	defer func() {
		if v := recover(); v != "again" {
			t.Errorf("expected re-panic with original value, got %v", v)
		}
	}()
	func() {
		defer h.Recover("test")
		panic("again")
	}()
}
