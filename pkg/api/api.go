// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

import "time"

// SubmitJobRequest is the request body for submitting a transcription job.
// SourceLocation must point at a media file that already passed upload
// validation; the orchestrator does not re-validate its contents.
type SubmitJobRequest struct {
	SourceLocation string `json:"source_location"`
	Filename       string `json:"filename,omitempty"`
	FileType       string `json:"file_type,omitempty"`
	SizeBytes      int64  `json:"size_bytes,omitempty"`
	Language       string `json:"language,omitempty"`
	Model          string `json:"model,omitempty"`
	// Priority must be between 0 and 100
	Priority int `json:"priority,omitempty"`
}

// SubmitJobResponse is the response body after submitting a job.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse represents a job record in API responses.
type JobResponse struct {
	ID             string     `json:"id"`
	Filename       string     `json:"filename,omitempty"`
	SourceLocation string     `json:"source_location"`
	FileType       string     `json:"file_type,omitempty"`
	SizeBytes      int64      `json:"size_bytes,omitempty"`
	Language       string     `json:"language,omitempty"`
	Model          string     `json:"model,omitempty"`
	Status         string     `json:"status"`
	ResultText     string     `json:"result_text,omitempty"`
	ArtifactPath   string     `json:"artifact_path,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is the response body for job listings.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// QueueStatusResponse reports queue and store counts for observability.
type QueueStatusResponse struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// HealthResponse is the response body for the backend health probe.
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Backend string `json:"backend,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Priority levels for job scheduling
const (
	PriorityLow      = 0
	PriorityNormal   = 50
	PriorityHigh     = 75
	PriorityCritical = 100

	PriorityMin = 0
	PriorityMax = 100
)
