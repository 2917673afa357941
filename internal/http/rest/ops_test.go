package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfreitas/tlc_ingest/internal/ledger"
	"github.com/mfreitas/tlc_ingest/internal/ledger/sqlite"
	"github.com/mfreitas/tlc_ingest/internal/staging"
	"github.com/mfreitas/tlc_ingest/internal/telemetry"
)

func newTestHandler(t *testing.T) (*OpsHandler, *sqlite.RunRepository) {
	t.Helper()

	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewRunRepository(db)
	area := staging.NewWithFs(afero.NewMemMapFs(), "/staging")

	// Disabled telemetry still satisfies the middleware chain.
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	return NewOpsHandler(repo, area, tel), repo
}

func seedRun(t *testing.T, repo *sqlite.RunRepository, runID string, startedAt time.Time, failed int) {
	t.Helper()

	rec := ledger.RunRecord{
		RunID:      runID,
		Dataset:    "nyc_taxi",
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Minute),
		Planned:    10,
		Succeeded:  10 - failed,
		Failed:     failed,
	}

	var failures []ledger.FailureRecord
	for i := 0; i < failed; i++ {
		failures = append(failures, ledger.FailureRecord{
			RunID:    runID,
			FileName: "yellow_tripdata_2023-01.parquet",
			Service:  "yellow",
			Year:     2023,
			Month:    1,
			Class:    "timeout",
			Reason:   "fetch timed out",
			Attempts: 3,
		})
	}

	require.NoError(t, repo.RecordRun(context.Background(), rec, failures))
}

func TestHandleHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "/staging", resp.StagingRoot)
}

func TestHandleLatestRun(t *testing.T) {
	h, repo := newTestHandler(t)

	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	seedRun(t, repo, "older", base, 0)
	seedRun(t, repo, "newer", base.Add(time.Hour), 1)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp latestRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "newer", resp.Run.RunID)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "timeout", resp.Failures[0].Class)
}

func TestHandleLatestRunEmpty(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRuns(t *testing.T) {
	h, repo := newTestHandler(t)

	base := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedRun(t, repo, string(rune('a'+i)), base.Add(time.Duration(i)*time.Hour), 0)
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp runsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "c", resp.Runs[0].RunID)
	assert.Equal(t, "b", resp.Runs[1].RunID)
}

func TestHandleRunsBadLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit string
	}{
		{"not a number", "abc"},
		{"zero", "0"},
		{"negative", "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t)

			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit="+tt.limit, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, rec.Header().Get(telemetry.RequestIDHeader))
}
