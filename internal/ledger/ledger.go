// Package ledger keeps the history of ingestion runs.
//
// The ledger is observational: it answers "what happened lately" for
// operators and the ops API. Idempotency never consults it; presence in
// the staging area is the only source of truth for what is ingested.
package ledger

import (
	"context"
	"time"

	"github.com/mfreitas/tlc_ingest/internal/ingest"
)

// RunRecord is one finished ingestion run.
type RunRecord struct {
	RunID        string    `json:"run_id"`
	Dataset      string    `json:"dataset"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Planned      int       `json:"planned"`
	Succeeded    int       `json:"succeeded"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	BytesFetched int64     `json:"bytes_fetched"`
}

// FailureRecord is one failed snapshot within a run.
type FailureRecord struct {
	RunID    string `json:"-"`
	FileName string `json:"file_name"`
	Service  string `json:"service"`
	Year     int    `json:"year"`
	Month    int    `json:"month"`
	Class    string `json:"class"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// RunWriteRepository records finished runs.
type RunWriteRepository interface {
	RecordRun(ctx context.Context, rec RunRecord, failures []FailureRecord) error
}

// RunReadRepository serves run history to the ops API.
type RunReadRepository interface {
	LastRun(ctx context.Context) (*RunRecord, []FailureRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// FromSummary flattens a run summary into ledger records.
func FromSummary(dataset string, s *ingest.Summary) (RunRecord, []FailureRecord) {
	rec := RunRecord{
		RunID:        s.RunID,
		Dataset:      dataset,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
		Planned:      s.Planned,
		Succeeded:    s.Succeeded,
		Skipped:      s.Skipped,
		Failed:       s.Failed,
		BytesFetched: s.BytesFetched,
	}

	failures := make([]FailureRecord, 0, len(s.Failures))
	for _, f := range s.Failures {
		failures = append(failures, FailureRecord{
			RunID:    s.RunID,
			FileName: f.Descriptor.FileName(),
			Service:  string(f.Descriptor.Service),
			Year:     f.Descriptor.Year,
			Month:    f.Descriptor.Month,
			Class:    string(f.Class),
			Reason:   f.Reason,
			Attempts: f.Attempts,
		})
	}

	return rec, failures
}
