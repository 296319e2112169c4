package logging

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunLogPattern matches the per-run diagnostic logs in the log directory.
const RunLogPattern = "fsipd-*.log"

// Retention describes which per-run logs in Dir may be pruned.
type Retention struct {
	Dir     string
	Days    int
	Pattern string
	// Keep lists paths that are never removed, whatever their age.
	Keep []string
	// Now defaults to time.Now.
	Now func() time.Time
}

// CleanupOldLogs removes logs in r.Dir matching r.Pattern whose modification
// time is more than r.Days days old, and returns how many it removed.
// Days <= 0 disables pruning. Symlinks are skipped.
func CleanupOldLogs(logger *slog.Logger, r Retention) int {
	if r.Days <= 0 || r.Dir == "" {
		return 0
	}
	logger = NewComponentLogger(logger, "retention")
	pattern := r.Pattern
	if pattern == "" {
		pattern = RunLogPattern
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	cutoff := now().AddDate(0, 0, -r.Days)

	keep := make(map[string]bool, len(r.Keep))
	for _, p := range r.Keep {
		if abs, err := filepath.Abs(p); err == nil {
			keep[abs] = true
		}
	}

	matches, err := filepath.Glob(filepath.Join(r.Dir, pattern))
	if err != nil {
		return 0
	}
	removed := 0
	for _, path := range matches {
		abs, err := filepath.Abs(path)
		if err != nil || keep[abs] {
			continue
		}
		info, err := os.Lstat(abs)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
			WarnWithContext(logger, "old diagnostic log not removed", "log_retention_failed",
				String(FieldPath, abs),
				Error(err),
				String(FieldErrorHint, "check ownership of the log directory"),
				String(FieldImpact, "old log stays on disk"),
			)
			continue
		}
		removed++
		logger.Debug("old diagnostic log removed", String(FieldPath, abs))
	}
	return removed
}
