// Package orchestrator is the single entry point for job lifecycle
// operations. The HTTP layer and the CLI both go through it; nothing
// else writes job records or queue entries.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"scribeq/internal/backend"
	"scribeq/internal/store"
	"scribeq/internal/transcripts"
	"scribeq/pkg/api"

	"github.com/google/uuid"
)

// ErrInvalidRequest wraps submission validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultModel is used when a submission names no model.
const DefaultModel = "base"

// TxBeginner starts store transactions. Satisfied by *postgres.Store.
type TxBeginner interface {
	BeginTx(ctx context.Context) (store.Tx, error)
}

// SubmissionRecorder counts accepted submissions. Satisfied by
// *observability.JobMetrics.
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context)
}

// Orchestrator coordinates the record store, the durable queue, the
// backend gateway and the transcript store. All dependencies arrive
// through the constructor.
type Orchestrator struct {
	jobs      store.JobStore
	queue     store.Queue
	txb       TxBeginner
	gateway   backend.Gateway
	artifacts *transcripts.Store
	metrics   SubmissionRecorder
	logger    *slog.Logger
}

// New creates an orchestrator. artifacts and metrics may be nil when
// transcript persistence or instrumentation is disabled.
func New(jobs store.JobStore, queue store.Queue, txb TxBeginner, gateway backend.Gateway, artifacts *transcripts.Store, metrics SubmissionRecorder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:      jobs,
		queue:     queue,
		txb:       txb,
		gateway:   gateway,
		artifacts: artifacts,
		metrics:   metrics,
		logger:    logger,
	}
}

// Submit validates the request, creates the job record and enqueues it
// in a single transaction, so a record never exists without its queue
// entry or vice versa.
func (o *Orchestrator) Submit(ctx context.Context, req api.SubmitJobRequest) (*store.Job, error) {
	if req.SourceLocation == "" {
		return nil, fmt.Errorf("%w: source_location is required", ErrInvalidRequest)
	}
	if req.Priority < api.PriorityMin || req.Priority > api.PriorityMax {
		return nil, fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidRequest, api.PriorityMin, api.PriorityMax)
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.SourceLocation)
	}

	job := &store.Job{
		Filename:       filename,
		SourceLocation: req.SourceLocation,
		FileType:       req.FileType,
		SizeBytes:      req.SizeBytes,
		Language:       req.Language,
		Model:          model,
	}

	payload, err := json.Marshal(store.EntryPayload{
		SourceLocation: req.SourceLocation,
		Model:          model,
		Language:       req.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue payload: %w", err)
	}

	tx, err := o.txb.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := o.jobs.CreateJob(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}
	if _, err := o.queue.Enqueue(ctx, tx, job.ID, payload, req.Priority, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit submission: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RecordSubmission(ctx)
	}

	o.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"filename", job.Filename,
		"model", model,
		"priority", req.Priority)

	return job, nil
}

// GetJob returns a job record by ID.
func (o *Orchestrator) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	return o.jobs.GetJobByID(ctx, id)
}

// ListJobs returns jobs matching the filter, newest first, plus the
// total count for the filter.
func (o *Orchestrator) ListJobs(ctx context.Context, filter store.JobFilter, page store.Page) ([]store.Job, int, error) {
	return o.jobs.ListJobs(ctx, filter, page)
}

// DeleteJob removes a job record, its queue entry and its transcript
// artifact. Deleting a job whose attempt is in flight is allowed; the
// attempt's final write will find nothing to update and is discarded.
func (o *Orchestrator) DeleteJob(ctx context.Context, id uuid.UUID) error {
	job, err := o.jobs.GetJobByID(ctx, id)
	if err != nil {
		return err
	}

	tx, err := o.txb.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := o.queue.Remove(ctx, tx, id); err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	deleted, err := o.jobs.DeleteJob(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	if !deleted {
		return store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}

	if o.artifacts != nil && job.ArtifactPath != "" {
		if err := o.artifacts.Remove(job.ArtifactPath); err != nil {
			o.logger.WarnContext(ctx, "failed to remove transcript artifact",
				"job_id", id, "path", job.ArtifactPath, "error", err)
		}
	}

	o.logger.InfoContext(ctx, "job deleted", "job_id", id)
	return nil
}

// QueueStatus reports waiting/active queue entries and completed/failed
// job totals.
func (o *Orchestrator) QueueStatus(ctx context.Context) (store.QueueCounts, error) {
	return o.queue.Counts(ctx)
}

// Healthy reports whether the transcription backend can take work.
func (o *Orchestrator) Healthy(ctx context.Context) bool {
	return o.gateway.Healthy(ctx)
}
