package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"scribeq/internal/orchestrator"
	"scribeq/internal/store"
	"scribeq/pkg/api"

	"github.com/google/uuid"
)

// SubmitJob handles POST /jobs.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.service.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.httpError(w, "Failed to submit job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.SubmitJobResponse{JobID: job.ID.String()})
}

// GetJob handles GET /jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, jobResponse(job))
}

// ListJobs handles GET /jobs with optional status, limit and offset
// query parameters.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	var filter store.JobFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := store.JobStatus(raw)
		switch status {
		case store.JobStatusPending, store.JobStatusProcessing, store.JobStatusCompleted, store.JobStatusFailed:
			filter.Status = &status
		default:
			h.httpError(w, "Invalid status filter", http.StatusBadRequest)
			return
		}
	}

	var page store.Page
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.httpError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		page.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.httpError(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		page.Offset = n
	}

	jobs, total, err := h.service.ListJobs(r.Context(), filter, page)
	if err != nil {
		h.httpError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := api.ListJobsResponse{
		Jobs:  make([]api.JobResponse, 0, len(jobs)),
		Total: total,
	}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, jobResponse(&jobs[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// DeleteJob handles DELETE /jobs/{id}.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to delete job", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
