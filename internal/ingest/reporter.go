package ingest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mfreitas/tlc_ingest/internal/logctx"
)

// Reporter settles outcomes from concurrent workers into a Summary. Safe
// for concurrent use; every collected outcome is counted exactly once.
type Reporter struct {
	mu      sync.Mutex
	summary *Summary
}

// NewReporter starts accounting for a run of the given size.
func NewReporter(runID string, planned int) *Reporter {
	return &Reporter{summary: NewSummary(runID, planned)}
}

// RunID returns the identifier outcomes are being collected under.
func (r *Reporter) RunID() string {
	return r.summary.RunID
}

// Collect records one outcome and logs it at a level matching its weight:
// skips are debug noise, successes are news, failures are warnings. A
// failure never propagates beyond its outcome, which is what keeps one bad
// snapshot from touching the rest of the batch.
func (r *Reporter) Collect(ctx context.Context, o Outcome) {
	r.mu.Lock()
	switch o.Status {
	case StatusSkipped:
		r.summary.Skipped++
	case StatusSucceeded:
		r.summary.Succeeded++
		r.summary.BytesFetched += o.Bytes
	case StatusFailed:
		r.summary.Failed++
		r.summary.Failures = append(r.summary.Failures, Failure{
			Descriptor: o.Descriptor,
			Class:      o.Class,
			Reason:     o.Reason,
			Attempts:   o.Attempts,
		})
	}
	r.mu.Unlock()

	logger := logctx.LoggerFromContext(ctx)

	switch o.Status {
	case StatusSkipped:
		logger.Debug("snapshot already staged, skipping")
	case StatusSucceeded:
		logger.Info("snapshot staged",
			"bytes", o.Bytes,
			"attempts", o.Attempts,
			"elapsed_ms", o.ElapsedMS,
		)
	case StatusFailed:
		logger.Warn("snapshot failed",
			"class", o.Class,
			"reason", o.Reason,
			"attempts", o.Attempts,
		)
	}
}

// Finish stamps the end time and returns the summary. Failures are sorted
// by file name so two runs over the same grid report them in the same
// order.
func (r *Reporter) Finish() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.summary.FinishedAt = time.Now().UTC()
	slices.SortFunc(r.summary.Failures, func(a, b Failure) int {
		return strings.Compare(a.Descriptor.FileName(), b.Descriptor.FileName())
	})

	return r.summary
}
