package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for durable job queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics
// and support delayed re-delivery via a visible-after timestamp.
type Queue interface {
	// Enqueue adds a job to the queue. Enqueue is not idempotent;
	// enqueueing the same job twice is a caller bug.
	Enqueue(ctx context.Context, tx DBTransaction, jobID uuid.UUID, payload json.RawMessage, priority int, visibleAfter time.Time) (int64, error)

	// DequeueBatch claims up to 'limit' ready entries atomically.
	// Claimed entries get their attempt counter incremented and their
	// visibility pushed out by the visibility timeout.
	// Returns nil slice if the queue is empty.
	DequeueBatch(ctx context.Context, limit int) ([]QueueItem, error)

	// Complete removes the queue entry after a successful attempt.
	Complete(ctx context.Context, tx DBTransaction, jobID uuid.UUID) error

	// Release re-schedules the entry for delivery at visibleAfter
	// (retry with backoff) and gives up the claim.
	Release(ctx context.Context, tx DBTransaction, jobID uuid.UUID, visibleAfter time.Time) error

	// SetVisibleAfter extends the visibility of a claimed entry without
	// releasing it (worker heartbeat during a long attempt).
	SetVisibleAfter(ctx context.Context, tx DBTransaction, jobID uuid.UUID, visibleAfter time.Time) error

	// Remove drops the entry without completing it (terminal failure
	// or job deletion).
	Remove(ctx context.Context, tx DBTransaction, jobID uuid.UUID) error

	// Counts reports waiting/active queue entries plus completed/failed
	// job totals from the record store.
	Counts(ctx context.Context) (QueueCounts, error)
}

// QueueItem represents a dequeued entry claimed by a worker.
type QueueItem struct {
	QueueID int64
	JobID   uuid.UUID
	Payload json.RawMessage
	Attempt int
}

// EntryPayload is the parameters snapshot carried by a queue entry, so
// workers do not need to re-read the jobs table before invoking the backend.
type EntryPayload struct {
	SourceLocation string `json:"source_location"`
	Model          string `json:"model"`
	Language       string `json:"language,omitempty"`
}
