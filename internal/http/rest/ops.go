// Package rest exposes the operational HTTP surface: liveness, metrics
// and run history. Ingestion itself never depends on it.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mfreitas/tlc_ingest/internal/ledger"
	"github.com/mfreitas/tlc_ingest/internal/logctx"
	"github.com/mfreitas/tlc_ingest/internal/staging"
	"github.com/mfreitas/tlc_ingest/internal/telemetry"
)

const defaultRunsLimit = 20

type OpsHandler struct {
	runs ledger.RunReadRepository
	area *staging.Area
	tel  *telemetry.Telemetry
}

// NewOpsHandler creates the handler backing the ops endpoints.
func NewOpsHandler(runs ledger.RunReadRepository, area *staging.Area, tel *telemetry.Telemetry) *OpsHandler {
	return &OpsHandler{
		runs: runs,
		area: area,
		tel:  tel,
	}
}

func (h *OpsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.tel).Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", h.tel.Handler())
	r.Get("/runs/latest", h.HandleLatestRun)
	r.Get("/runs", h.HandleRuns)

	return r
}

type healthResponse struct {
	Status      string `json:"status"`
	StagingRoot string `json:"staging_root"`
}

func (h *OpsHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, healthResponse{
		Status:      "ok",
		StagingRoot: h.area.Root(),
	})
}

type latestRunResponse struct {
	Run      ledger.RunRecord       `json:"run"`
	Failures []ledger.FailureRecord `json:"failures"`
}

// HandleLatestRun serves the most recent run with its failure list.
func (h *OpsHandler) HandleLatestRun(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	rec, failures, err := h.runs.LastRun(r.Context())
	if err != nil {
		logger.Error("failed to read last run", "err", err)
		http.Error(w, "failed to read run history", http.StatusInternalServerError)

		return
	}

	if rec == nil {
		http.Error(w, "no runs recorded yet", http.StatusNotFound)

		return
	}

	if failures == nil {
		failures = []ledger.FailureRecord{}
	}

	h.writeJSON(w, r, latestRunResponse{Run: *rec, Failures: failures})
}

type runsResponse struct {
	Runs []ledger.RunRecord `json:"runs"`
}

// HandleRuns lists recent runs, newest first. The optional limit query
// parameter caps the page size.
func (h *OpsHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	limit := defaultRunsLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		limit = parsed
	}

	runs, err := h.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		logger.Error("failed to list runs", "err", err)
		http.Error(w, "failed to read run history", http.StatusInternalServerError)

		return
	}

	if runs == nil {
		runs = []ledger.RunRecord{}
	}

	h.writeJSON(w, r, runsResponse{Runs: runs})
}

func (h *OpsHandler) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
