package handlers

import (
	"net/http"

	"scribeq/pkg/api"
)

// QueueStatus handles GET /queue.
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.QueueStatus(r.Context())
	if err != nil {
		h.httpError(w, "Failed to read queue status", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.QueueStatusResponse{
		Waiting:   counts.Waiting,
		Active:    counts.Active,
		Completed: counts.Completed,
		Failed:    counts.Failed,
	})
}

// BackendHealth handles GET /backend/health. It reports whether the
// transcription backend can take work; a stopped on-demand backend
// counts as healthy.
func (h *Handlers) BackendHealth(w http.ResponseWriter, r *http.Request) {
	healthy := h.service.Healthy(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	h.respondJson(w, status, api.HealthResponse{Healthy: healthy, Backend: h.backend})
}
