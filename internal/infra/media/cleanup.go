package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CleanupOldFiles deletes regular files in dir last modified more than
// maxAge ago and returns how many were removed. Per-file errors are logged
// and skipped.
func CleanupOldFiles(dir string, maxAge time.Duration, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Error("failed to stat file", "path", path, "error", err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Error("failed to delete old file", "path", path, "error", err)
			continue
		}
		logger.Info("deleted old file", "path", path)
		removed++
	}
	return removed, nil
}
