package staging

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/mfreitas/tlc_ingest/internal/logctx"
)

// SweepPartials removes .partial files in the staging root whose mtime is
// older than maxAge. Interrupted runs leave partials behind and nothing
// resumes them, so anything past the grace window is debris. Final snapshot
// files are never touched. Returns the number of files removed.
func (a *Area) SweepPartials(ctx context.Context, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := afero.ReadDir(a.fs, a.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging root %s: %w", a.root, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}
		if entry.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(a.root, entry.Name())
		if err := a.fs.Remove(path); err != nil {
			logger.Warn("failed to remove stale partial", "file", path, "err", err)

			continue
		}

		logger.Info("removed stale partial", "file", path, "age", time.Since(entry.ModTime()).Round(time.Second).String())
		removed++
	}

	return removed, nil
}
