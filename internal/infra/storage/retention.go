package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// maxDeletionsPerSweep bounds the work done in one pass.
const maxDeletionsPerSweep = 1000

// Retention removes stored artifacts older than MaxAge from Dirs.
type Retention struct {
	Dirs     []string
	MaxAge   time.Duration
	Interval time.Duration
	Now      func() time.Time
}

// Sweep deletes expired regular files and returns how many were removed.
// Subdirectories are not descended into.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	if r.MaxAge <= 0 {
		return 0, nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	expiration := now().Add(-r.MaxAge)

	deleted := 0
	for _, dir := range r.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return deleted, err
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return deleted, ctx.Err()
			}
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			if !info.ModTime().Before(expiration) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Error("failed to remove expired artifact", "path", path, "error", err)
				return deleted, err
			}
			deleted++
			if deleted >= maxDeletionsPerSweep {
				slog.Debug("reached maximum number of deletions", "max", maxDeletionsPerSweep)
				return deleted, nil
			}
		}
	}
	return deleted, nil
}

// Run sweeps every Interval until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	if r.MaxAge <= 0 || r.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		n, err := r.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("retention sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("retention policy applied", "files_deleted", n, "max_age", r.MaxAge)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
