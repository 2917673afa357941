package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
	"github.com/mfreitas/tlc_ingest/internal/logctx"
	"github.com/mfreitas/tlc_ingest/internal/staging"
)

// FetchInfo describes one retrieval: how many bytes landed and how many
// attempts it took. Attempts is meaningful even when the fetch failed.
type FetchInfo struct {
	Bytes    int64
	Attempts int
}

// Fetcher retrieves one snapshot into the staging area. Implementations
// must publish atomically: after an error, no final-path file may exist.
type Fetcher interface {
	Fetch(ctx context.Context, d corpus.Descriptor) (FetchInfo, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, d corpus.Descriptor) (FetchInfo, error)

func (f FetcherFunc) Fetch(ctx context.Context, d corpus.Descriptor) (FetchInfo, error) {
	return f(ctx, d)
}

// Runner drives one ingestion run: enumerate the grid, skip what is already
// staged, fetch the rest with bounded parallelism, and account for every
// descriptor that was dispatched.
type Runner struct {
	area      *staging.Area
	fetcher   Fetcher
	workers   int
	onOutcome func(Outcome)
}

// RunnerOption tweaks a Runner at construction time.
type RunnerOption func(*Runner)

// WithOutcomeHook registers fn to observe every outcome as it settles.
// Telemetry hangs off this.
func WithOutcomeHook(fn func(Outcome)) RunnerOption {
	return func(r *Runner) { r.onOutcome = fn }
}

// NewRunner builds a runner with the given fetch parallelism. Workers below
// one are raised to one.
func NewRunner(area *staging.Area, fetcher Fetcher, workers int, opts ...RunnerOption) *Runner {
	if workers < 1 {
		workers = 1
	}

	r := &Runner{area: area, fetcher: fetcher, workers: workers}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run processes the whole grid and returns the run summary. The summary is
// returned even when ctx was cancelled mid-run; in that case the error
// reports the interruption and the summary covers what settled before it.
func (r *Runner) Run(ctx context.Context, grid corpus.Grid) (*Summary, error) {
	if err := grid.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}

	runID := uuid.NewString()
	ctx = logctx.Append(ctx, "run_id", runID)
	logger := logctx.LoggerFromContext(ctx)

	planned := grid.Count()
	reporter := NewReporter(runID, planned)

	logger.Info("ingest run starting",
		"planned", planned,
		"services", len(grid.Services),
		"workers", r.workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, r.workers)

submit:
	for d := range grid.All() {
		select {
		case <-gctx.Done():
			// Stop handing out work; descriptors never dispatched stay out
			// of the summary.
			break submit
		case sem <- struct{}{}:
		}

		g.Go(func() error {
			defer func() { <-sem }() // release the slot

			dctx := logctx.Append(gctx, "snapshot", d.String())
			outcome := r.process(dctx, d)

			reporter.Collect(dctx, outcome)
			if r.onOutcome != nil {
				r.onOutcome(outcome)
			}

			// Workers report outcomes, never errors: one bad snapshot must
			// not tear down the group.
			return nil
		})
	}

	_ = g.Wait()

	summary := reporter.Finish()

	logger.Info("ingest run finished",
		"planned", summary.Planned,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"bytes_fetched", summary.BytesFetched,
		"elapsed", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond).String(),
	)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}

	return summary, nil
}

// process settles a single descriptor. The staging probe runs first so a
// snapshot that is already present costs zero network traffic.
func (r *Runner) process(ctx context.Context, d corpus.Descriptor) Outcome {
	start := time.Now()

	staged, err := r.area.Contains(d)
	if err != nil {
		probeErr := &FilesystemError{Op: "probe", Path: r.area.PathFor(d), Err: err}

		return r.failed(d, probeErr, 0, start)
	}

	if staged {
		return Outcome{
			Descriptor: d,
			Status:     StatusSkipped,
			ElapsedMS:  time.Since(start).Milliseconds(),
		}
	}

	info, err := r.fetcher.Fetch(ctx, d)
	if err != nil {
		return r.failed(d, err, info.Attempts, start)
	}

	return Outcome{
		Descriptor: d,
		Status:     StatusSucceeded,
		Bytes:      info.Bytes,
		Attempts:   info.Attempts,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
}

func (r *Runner) failed(d corpus.Descriptor, err error, attempts int, start time.Time) Outcome {
	return Outcome{
		Descriptor: d,
		Status:     StatusFailed,
		Class:      ClassifyError(err),
		Reason:     err.Error(),
		Attempts:   attempts,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
}
