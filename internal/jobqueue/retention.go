package jobqueue

import (
	"os"
	"path/filepath"
	"time"

	"studio/internal/logging"
)

const exportPattern = "queue_export_*.zip"

// pruneExports removes queue archives older than the retention window. keep
// is the archive just written and always survives.
func (q *Queue) pruneExports(keep string, now time.Time) {
	if q.exportTTL <= 0 || q.exportDir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(q.exportDir, exportPattern))
	if err != nil {
		return
	}
	cutoff := now.Add(-q.exportTTL)
	for _, path := range matches {
		if path == keep {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.WarnWithContext(q.logger, "export prune failed; archive remains", "queue_export_prune_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on paths.export_dir"),
			)
			continue
		}
		q.logger.Info("queue export pruned",
			logging.String("path", path),
			logging.String(logging.FieldEventType, "queue_export_pruned"),
		)
	}
}
