package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finopsmind/backend/internal/apierrors"
	"github.com/finopsmind/backend/internal/pipeline"
	"github.com/finopsmind/backend/internal/repository"
)

// RunHandler triggers on-demand pipeline runs and serves run history.
type RunHandler struct {
	orchestrator *pipeline.Orchestrator
	runs         repository.RunRepository
}

// NewRunHandler constructs a RunHandler.
func NewRunHandler(orchestrator *pipeline.Orchestrator, runs repository.RunRepository) *RunHandler {
	return &RunHandler{orchestrator: orchestrator, runs: runs}
}

// TriggerNow runs the pipeline for one endpoint immediately and returns the
// full PipelineResult.
func (h *RunHandler) TriggerNow(w http.ResponseWriter, r *http.Request) {
	tenantID, apiErr := tenantFromRequest(r)
	if apiErr != nil {
		apiErr.Write(w, r)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.NewBadRequestError("invalid endpoint id").Write(w, r)
		return
	}

	result, err := h.orchestrator.Run(r.Context(), id, tenantID)
	if err == repository.ErrNotFound {
		apierrors.NewNotFoundError("endpoint", id.String()).Write(w, r)
		return
	}
	if err != nil {
		apierrors.NewInternalError("pipeline run failed: " + err.Error()).Write(w, r)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// History returns up to `limit` (default 20, max 100) most recent runs for
// an endpoint, newest first.
func (h *RunHandler) History(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.NewBadRequestError("invalid endpoint id").Write(w, r)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}

	runs, err := h.runs.ListRuns(r.Context(), id, limit)
	if err != nil {
		apierrors.NewInternalError("failed to list runs").Write(w, r)
		return
	}

	WriteJSON(w, http.StatusOK, runs)
}
