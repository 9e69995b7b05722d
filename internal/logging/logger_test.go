package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"moneymind/internal/config"
	"moneymind/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon started", logging.String(logging.FieldEventType, "daemon_started"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "daemon started") {
		t.Fatalf("expected message in log file, got %q", content)
	}
	if strings.Contains(string(content), "\x1b[") {
		t.Fatalf("expected no colour codes in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerPrefixesComponentAndRecord(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	component := logging.NewComponentLogger(logger, "upload")
	ctx := logging.WithSweepID(logging.WithRecordID(context.Background(), 42), "sweep-1")
	logging.WithContext(ctx, component).Info("retry scheduled", logging.Int("retry_count", 1))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO upload #42: retry scheduled") {
		t.Fatalf("expected component and record prefix, got %q", line)
	}
	if !strings.Contains(line, "sweep_id=sweep-1") || !strings.Contains(line, "retry_count=1") {
		t.Fatalf("expected structured fields, got %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be rendered as prefix only, got %q", line)
	}
}

func TestJSONLoggerUsesLowercaseLevels(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "warn", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("filtered")
	logging.WarnWithContext(logger, "upload failed", "upload_failed", logging.Error(errors.New("boom")))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(content), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one line after level filtering, got %d: %q", len(lines), content)
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
	for _, key := range []string{"ts", logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in %v", key, entry)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestRotateAndCleanupLogs(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, logging.LogFileName)
	if err := os.WriteFile(live, []byte("old run\n"), 0o644); err != nil {
		t.Fatalf("write live log: %v", err)
	}
	archive, err := logging.RotateLogFile(dir, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("RotateLogFile: %v", err)
	}
	if filepath.Base(archive) != "moneymind-20260102T030405.log" {
		t.Fatalf("unexpected archive name %q", archive)
	}
	if _, err := os.Stat(live); !os.IsNotExist(err) {
		t.Fatalf("expected live log moved, stat err=%v", err)
	}

	old := time.Now().AddDate(0, 0, -10)
	if err := os.Chtimes(archive, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := filepath.Join(dir, "moneymind-20991231T000000.log")
	if err := os.WriteFile(fresh, nil, 0o644); err != nil {
		t.Fatalf("write fresh archive: %v", err)
	}

	logging.CleanupOldLogs(logging.NewNop(), dir, 7)

	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Fatalf("expected old archive pruned, stat err=%v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh archive kept: %v", err)
	}
}

func TestRotateLogFileSkipsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, logging.LogFileName), nil, 0o644); err != nil {
		t.Fatalf("write live log: %v", err)
	}
	archive, err := logging.RotateLogFile(dir, time.Now())
	if err != nil {
		t.Fatalf("RotateLogFile: %v", err)
	}
	if archive != "" {
		t.Fatalf("expected no rotation for empty log, got %q", archive)
	}
}
