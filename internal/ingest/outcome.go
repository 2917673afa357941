package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
)

// Status is the terminal state of one descriptor within a run.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome records what happened to one snapshot descriptor.
type Outcome struct {
	Descriptor corpus.Descriptor `json:"descriptor"`
	Status     Status            `json:"status"`
	Class      FailureClass      `json:"class,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Bytes      int64             `json:"bytes,omitempty"`
	Attempts   int               `json:"attempts,omitempty"`
	ElapsedMS  int64             `json:"elapsed_ms"`
}

// Failure is the slice of a failed outcome that summaries keep per
// descriptor: enough to re-run or investigate without digging through logs.
type Failure struct {
	Descriptor corpus.Descriptor `json:"descriptor"`
	Class      FailureClass      `json:"class"`
	Reason     string            `json:"reason"`
	Attempts   int               `json:"attempts"`
}

// Summary aggregates one whole run. Planned is the grid size; the counters
// sum to fewer when the run was interrupted before every descriptor
// settled.
type Summary struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Planned      int       `json:"planned"`
	Succeeded    int       `json:"succeeded"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	BytesFetched int64     `json:"bytes_fetched"`
	Failures     []Failure `json:"failures,omitempty"`
}

// NewSummary starts an empty summary with a fresh run ID.
func NewSummary(runID string, planned int) *Summary {
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Summary{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Planned:   planned,
	}
}

// Ok reports whether the run saw zero failures. It decides the process exit
// code.
func (s *Summary) Ok() bool {
	return s.Failed == 0
}

// Settled returns how many descriptors reached a terminal state.
func (s *Summary) Settled() int {
	return s.Succeeded + s.Skipped + s.Failed
}
