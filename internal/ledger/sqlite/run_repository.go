package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mfreitas/tlc_ingest/internal/ledger"
)

const timeFormat = time.RFC3339Nano

// RunRepository stores run history in SQLite.
type RunRepository struct {
	db *sql.DB
}

var (
	_ ledger.RunWriteRepository = (*RunRepository)(nil)
	_ ledger.RunReadRepository  = (*RunRepository)(nil)
)

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// RecordRun inserts the run and its failures in one transaction.
func (r *RunRepository) RecordRun(ctx context.Context, rec ledger.RunRecord, failures []ledger.FailureRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, dataset, started_at, finished_at, planned, succeeded, skipped, failed, bytes_fetched)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Dataset,
		rec.StartedAt.UTC().Format(timeFormat), rec.FinishedAt.UTC().Format(timeFormat),
		rec.Planned, rec.Succeeded, rec.Skipped, rec.Failed, rec.BytesFetched,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, f := range failures {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_failures (run_id, file_name, service, year, month, class, reason, attempts)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.RunID, f.FileName, f.Service, f.Year, f.Month, f.Class, f.Reason, f.Attempts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run failure: %w", err)
		}
	}

	return tx.Commit()
}

// LastRun returns the most recent run and its failures, or nil when the
// ledger is empty.
func (r *RunRepository) LastRun(ctx context.Context) (*ledger.RunRecord, []ledger.FailureRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT run_id, dataset, started_at, finished_at, planned, succeeded, skipped, failed, bytes_fetched
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT 1`)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}

	if err != nil {
		return nil, nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, file_name, service, year, month, class, reason, attempts
		 FROM run_failures
		 WHERE run_id = ?
		 ORDER BY file_name`, rec.RunID)
	if err != nil {
		return nil, nil, err
	}

	defer rows.Close()

	var failures []ledger.FailureRecord

	for rows.Next() {
		var f ledger.FailureRecord
		if err := rows.Scan(&f.RunID, &f.FileName, &f.Service, &f.Year, &f.Month, &f.Class, &f.Reason, &f.Attempts); err != nil {
			return nil, nil, err
		}

		failures = append(failures, f)
	}

	return rec, failures, rows.Err()
}

// RecentRuns returns up to limit runs, newest first.
func (r *RunRepository) RecentRuns(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id, dataset, started_at, finished_at, planned, succeeded, skipped, failed, bytes_fetched
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var runs []ledger.RunRecord

	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, *rec)
	}

	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*ledger.RunRecord, error) {
	var (
		rec      ledger.RunRecord
		started  string
		finished string
	)

	if err := row.Scan(&rec.RunID, &rec.Dataset, &started, &finished,
		&rec.Planned, &rec.Succeeded, &rec.Skipped, &rec.Failed, &rec.BytesFetched); err != nil {
		return nil, err
	}

	var err error

	if rec.StartedAt, err = time.Parse(timeFormat, started); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	if rec.FinishedAt, err = time.Parse(timeFormat, finished); err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	return &rec, nil
}
