package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ArchivePattern matches log files produced by RotateLogFile.
const ArchivePattern = "moneymind-*.log"

// RotateLogFile renames a non-empty daemon log to a timestamped archive so each
// daemon run starts with a fresh file. It returns the archive path, or "" when
// there was nothing to rotate.
func RotateLogFile(dir string, now time.Time) (string, error) {
	current := filepath.Join(dir, LogFileName)
	info, err := os.Stat(current)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}
	archive := filepath.Join(dir, fmt.Sprintf("moneymind-%s.log", now.UTC().Format("20060102T150405")))
	if err := os.Rename(current, archive); err != nil {
		return "", fmt.Errorf("rotate log file: %w", err)
	}
	return archive, nil
}

// CleanupOldLogs removes archived log files in dir older than retentionDays.
// A retentionDays value of 0 disables pruning. The live log is never removed.
func CleanupOldLogs(logger *slog.Logger, dir string, retentionDays int) {
	dir = strings.TrimSpace(dir)
	if retentionDays <= 0 || dir == "" {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == LogFileName {
			continue
		}
		if matched, err := filepath.Match(ArchivePattern, entry.Name()); err != nil || !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		fullPath := filepath.Join(dir, entry.Name())
		if err := os.Remove(fullPath); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String("path", fullPath),
				Error(err),
				String(FieldErrorHint, "check file permissions and log_dir ownership"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		if logger != nil {
			logger.Info("log pruned",
				String("path", fullPath),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
}
