package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"scribeq/internal/store"

	"github.com/google/uuid"
)

const jobColumns = `id, filename, source_location, file_type, size_bytes, language, model,
	status, result_text, artifact_path, error_message, created_at, updated_at, completed_at`

// CreateJob inserts a new job row. Status is forced to pending and an ID is
// generated when the caller did not provide one.
func (s *Store) CreateJob(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.Status = store.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO jobs (id, filename, source_location, file_type, size_bytes, language, model, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, query,
		job.ID,
		job.Filename,
		job.SourceLocation,
		job.FileType,
		job.SizeBytes,
		job.Language,
		job.Model,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}

	s.audit(ctx, "job created", "job_id", job.ID.String(), "model", job.Model)
	return nil
}

// GetJobByID returns a job by its ID or store.ErrNotFound.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE id = $1"

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	return job, nil
}

// ListJobs returns jobs matching the filter ordered by creation time
// descending, plus the total count for the filter.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter, page store.Page) ([]store.Job, int, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	where := ""
	countArgs := []interface{}{}
	if filter.Status != nil {
		where = " WHERE status = $1"
		countArgs = append(countArgs, *filter.Status)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs" + where
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	args := append([]interface{}{}, countArgs...)
	args = append(args, page.Limit, page.Offset)
	listQuery := fmt.Sprintf(
		"SELECT "+jobColumns+" FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, len(countArgs)+1, len(countArgs)+2,
	)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("job rows error: %w", err)
	}

	return jobs, total, nil
}

// UpdateJob applies the non-nil fields of update in a single statement and
// refreshes updated_at. The updated row is returned so callers observe the
// record exactly as persisted.
func (s *Store) UpdateJob(ctx context.Context, tx store.DBTransaction, id uuid.UUID, update store.JobUpdate) (*store.Job, error) {
	if update.Empty() {
		return nil, store.ErrInvalidUpdate
	}

	sets := []string{}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		sets = append(sets, "status = "+arg(*update.Status))
	}
	if update.ResultText != nil {
		sets = append(sets, "result_text = "+arg(*update.ResultText))
	}
	if update.ArtifactPath != nil {
		sets = append(sets, "artifact_path = "+arg(*update.ArtifactPath))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = "+arg(*update.ErrorMessage))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = "+arg(*update.CompletedAt))
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(
		"UPDATE jobs SET %s WHERE id = %s RETURNING "+jobColumns,
		strings.Join(sets, ", "), arg(id),
	)

	executor := s.getExecutor(tx)
	job, err := scanJob(executor.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	s.audit(ctx, "job updated", "job_id", id.String(), "status", string(job.Status))
	return job, nil
}

// DeleteJob removes a job record. Queue entries cascade at the schema level.
func (s *Store) DeleteJob(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, "DELETE FROM jobs WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if n > 0 {
		s.audit(ctx, "job deleted", "job_id", id.String())
	}
	return n > 0, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var job store.Job
	var completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.Filename, &job.SourceLocation, &job.FileType,
		&job.SizeBytes, &job.Language, &job.Model, &job.Status,
		&job.ResultText, &job.ArtifactPath, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
