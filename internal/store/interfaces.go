package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job record does not exist.
var ErrNotFound = errors.New("job not found")

// ErrInvalidUpdate is returned when an update carries no fields.
var ErrInvalidUpdate = errors.New("update carries no fields")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is a transaction handle usable as a DBTransaction.
type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// JobStore handles persistence of job records.
type JobStore interface {
	// CreateJob inserts a new job record. Status is forced to pending
	// and timestamps are assigned by the store.
	CreateJob(ctx context.Context, tx DBTransaction, job *Job) error

	// GetJobByID returns a job by its ID or ErrNotFound.
	GetJobByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListJobs returns jobs matching the filter ordered by creation time
	// descending, plus the total count for the filter.
	ListJobs(ctx context.Context, filter JobFilter, page Page) ([]Job, int, error)

	// UpdateJob applies the non-nil fields of update and refreshes
	// updated_at. Returns ErrInvalidUpdate when update is empty and
	// ErrNotFound when the job does not exist.
	UpdateJob(ctx context.Context, tx DBTransaction, id uuid.UUID, update JobUpdate) (*Job, error)

	// DeleteJob removes a job record. Returns false when nothing was deleted.
	DeleteJob(ctx context.Context, tx DBTransaction, id uuid.UUID) (bool, error)
}
