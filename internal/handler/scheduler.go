package handler

import (
	"net/http"

	"github.com/finopsmind/backend/internal/scheduler"
)

// SchedulerHandler reports scheduler status and triggers a manual sync.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
}

// NewSchedulerHandler constructs a SchedulerHandler.
func NewSchedulerHandler(s *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: s}
}

func (h *SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *SchedulerHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncJobs(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
