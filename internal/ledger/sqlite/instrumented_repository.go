package sqlite

import (
	"context"
	"database/sql"

	"github.com/mfreitas/tlc_ingest/internal/ledger"
	"github.com/mfreitas/tlc_ingest/internal/telemetry"
)

// InstrumentedRunRepository wraps RunRepository with telemetry.
type InstrumentedRunRepository struct {
	repo *RunRepository
	tel  *telemetry.Telemetry
}

var (
	_ ledger.RunWriteRepository = (*InstrumentedRunRepository)(nil)
	_ ledger.RunReadRepository  = (*InstrumentedRunRepository)(nil)
)

// NewInstrumentedRunRepository creates a new instrumented run repository.
func NewInstrumentedRunRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedRunRepository {
	return &InstrumentedRunRepository{
		repo: NewRunRepository(db),
		tel:  tel,
	}
}

// RecordRun records a finished run with telemetry.
func (r *InstrumentedRunRepository) RecordRun(ctx context.Context, rec ledger.RunRecord, failures []ledger.FailureRecord) error {
	return r.tel.InstrumentLedgerOperation(ctx, "record_run", func(ctx context.Context) error {
		return r.repo.RecordRun(ctx, rec, failures)
	})
}

// LastRun reads the most recent run with telemetry.
func (r *InstrumentedRunRepository) LastRun(ctx context.Context) (*ledger.RunRecord, []ledger.FailureRecord, error) {
	var (
		rec      *ledger.RunRecord
		failures []ledger.FailureRecord
	)

	var err error

	instrumentedErr := r.tel.InstrumentLedgerOperation(ctx, "last_run", func(ctx context.Context) error {
		rec, failures, err = r.repo.LastRun(ctx)

		return err
	})

	if instrumentedErr != nil {
		return nil, nil, instrumentedErr
	}

	return rec, failures, nil
}

// RecentRuns lists recent runs with telemetry.
func (r *InstrumentedRunRepository) RecentRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	var result []ledger.RunRecord

	var err error

	instrumentedErr := r.tel.InstrumentLedgerOperation(ctx, "recent_runs", func(ctx context.Context) error {
		result, err = r.repo.RecentRuns(ctx, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
