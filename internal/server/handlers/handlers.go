// Package handlers contains HTTP handlers for the scribeq API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"scribeq/internal/store"
	"scribeq/pkg/api"

	"github.com/google/uuid"
)

// Service is the orchestration surface the HTTP layer needs. It is
// satisfied by *orchestrator.Orchestrator.
type Service interface {
	Submit(ctx context.Context, req api.SubmitJobRequest) (*store.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter, page store.Page) ([]store.Job, int, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
	QueueStatus(ctx context.Context) (store.QueueCounts, error)
	Healthy(ctx context.Context) bool
}

// Pinger checks database connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	service Service
	pinger  Pinger
	backend string
}

// New creates a new Handlers instance. backend describes the
// transcription backend (URL or image) for the health endpoint.
func New(service Service, pinger Pinger, backend string) *Handlers {
	return &Handlers{service: service, pinger: pinger, backend: backend}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// jobResponse converts a store record to its API shape.
func jobResponse(job *store.Job) api.JobResponse {
	return api.JobResponse{
		ID:             job.ID.String(),
		Filename:       job.Filename,
		SourceLocation: job.SourceLocation,
		FileType:       job.FileType,
		SizeBytes:      job.SizeBytes,
		Language:       job.Language,
		Model:          job.Model,
		Status:         string(job.Status),
		ResultText:     job.ResultText,
		ArtifactPath:   job.ArtifactPath,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		CompletedAt:    job.CompletedAt,
	}
}
