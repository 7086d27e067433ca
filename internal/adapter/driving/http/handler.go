// Package httphandler is the HTTP driving adapter that serves the REST API.
package httphandler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mlaurent/sellsync/internal/application"
	"github.com/mlaurent/sellsync/internal/domain/model"
	"github.com/mlaurent/sellsync/internal/domain/port/driven"
)

// defaultRunsLimit bounds the run-history listing when no limit is given.
const defaultRunsLimit = 20

// maxRunsLimit is the hard cap on the run-history listing.
const maxRunsLimit = 200

// Handler serves the REST API: run history, manual trigger, and health.
type Handler struct {
	runStore  driven.RunStore
	syncSvc   *application.SyncService
	healthSvc *application.HealthService
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	runStore driven.RunStore,
	syncSvc *application.SyncService,
	healthSvc *application.HealthService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		runStore:  runStore,
		syncSvc:   syncSvc,
		healthSvc: healthSvc,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. metricsHandler serves /metrics and
// may be nil to disable the endpoint.
func NewServeMux(h *Handler, metricsHandler http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.GetRun)
	mux.HandleFunc("POST /api/v1/sync", h.TriggerSync)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListRuns serves the run history, newest first. The optional "limit" query
// parameter caps the result size.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxRunsLimit)
	}

	runs, err := h.runStore.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRun serves a single run with its step results.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	run, err := h.runStore.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get run failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

// TriggerSync starts a manual run and blocks until it finishes. A run already
// in progress yields 409. A failed run is reported with 502 and the run
// record, so the caller sees which step aborted.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	run, err := h.syncSvc.Execute(r.Context(), model.TriggerManual)
	if errors.Is(err, application.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "a sync run is already in progress")
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, toRunResponse(run))
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// Health serves the aggregate health view. A degraded service responds 503 so
// container orchestrators can act on it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	summary, err := h.healthSvc.Summary(r.Context())
	if err != nil {
		h.logger.Error("health summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute health")
		return
	}

	status := http.StatusOK
	if summary.Status != application.HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, toHealthResponse(summary))
}
