// Package store contains the database layer for scribeq.
package store

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a transcription job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the durable record of a transcription task and its outcome.
// The store is the single source of truth for Status; queue state is
// advisory by comparison.
type Job struct {
	ID             uuid.UUID
	Filename       string
	SourceLocation string
	FileType       string
	SizeBytes      int64
	Language       string
	Model          string
	Status         JobStatus
	ResultText     string
	ArtifactPath   string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// JobUpdate is a partial update applied to a job record. Nil fields
// are left untouched. UpdatedAt is always refreshed by the store.
type JobUpdate struct {
	Status       *JobStatus
	ResultText   *string
	ArtifactPath *string
	ErrorMessage *string
	CompletedAt  *time.Time
}

// Empty reports whether the update carries no fields.
func (u JobUpdate) Empty() bool {
	return u.Status == nil && u.ResultText == nil && u.ArtifactPath == nil &&
		u.ErrorMessage == nil && u.CompletedAt == nil
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status *JobStatus
}

// Page controls ListJobs pagination. Zero Limit means the store default.
type Page struct {
	Limit  int
	Offset int
}

// QueueCounts reports queue and terminal-state totals for observability.
type QueueCounts struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
}
