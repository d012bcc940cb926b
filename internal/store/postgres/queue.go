package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"scribeq/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// VisibilityTimeout is how long a claimed entry stays invisible to other
// workers before it is considered abandoned and redelivered.
const VisibilityTimeout = 15 * time.Minute

// Enqueue adds a job to the job_queue. The payload is a snapshot of the
// transcription parameters so workers do not re-read the jobs table.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, payload json.RawMessage, priority int, visibleAfter time.Time) (int64, error) {
	if visibleAfter.IsZero() {
		visibleAfter = time.Now().UTC()
	}

	query := `
		INSERT INTO job_queue (job_id, payload, priority, visible_after)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	executor := s.getExecutor(tx)

	var id int64
	err := executor.QueryRowContext(ctx, query, jobID, payload, priority, visibleAfter).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	s.audit(ctx, "job enqueued", "job_id", jobID.String(), "priority", priority)
	return id, nil
}

// DequeueBatch claims up to 'limit' ready entries atomically using
// SELECT ... FOR UPDATE SKIP LOCKED. Claimed entries get their attempt
// counter incremented and their visibility pushed out so a crashed worker
// cannot strand them forever. Returns nil slice if no entries are ready.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, job_id, payload, attempt
		FROM job_queue
		WHERE visible_after <= NOW()
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`

	rows, err := tx.QueryContext(ctx, selectQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}
	defer rows.Close()

	var items []store.QueueItem
	var queueIDs []int64

	for rows.Next() {
		var item store.QueueItem
		if err := rows.Scan(&item.QueueID, &item.JobID, &item.Payload, &item.Attempt); err != nil {
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}
		// The claim below is attempt N, so report N+1 to the caller.
		item.Attempt++
		items = append(items, item)
		queueIDs = append(queueIDs, item.QueueID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	// Empty queue
	if len(items) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE job_queue
		SET attempt = attempt + 1,
		    claimed = TRUE,
		    visible_after = NOW() + ($1 * INTERVAL '1 second')
		WHERE id = ANY($2)
	`, VisibilityTimeout.Seconds(), pq.Array(queueIDs))
	if err != nil {
		return nil, fmt.Errorf("batch visibility update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return items, nil
}

// Complete removes the queue entry after a successful attempt.
func (s *Store) Complete(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, "DELETE FROM job_queue WHERE job_id = $1", jobID)
	if err != nil {
		return fmt.Errorf("failed to complete queue entry for job %s: %w", jobID, err)
	}
	return nil
}

// Release re-schedules the entry for delivery at visibleAfter and clears
// the claim marker. The entry keeps its original created_at, so ordering
// after the backoff follows priority plus visible-again time only.
func (s *Store) Release(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, visibleAfter time.Time) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE job_queue
		SET visible_after = $1, claimed = FALSE
		WHERE job_id = $2
	`, visibleAfter, jobID)
	if err != nil {
		return fmt.Errorf("failed to release queue entry for job %s: %w", jobID, err)
	}
	return nil
}

// SetVisibleAfter extends the visibility of a claimed entry without
// giving up the claim. A heartbeat that lands after the entry was
// released is a no-op.
func (s *Store) SetVisibleAfter(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID, visibleAfter time.Time) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		UPDATE job_queue
		SET visible_after = $1
		WHERE job_id = $2 AND claimed
	`, visibleAfter, jobID)
	if err != nil {
		return fmt.Errorf("failed to extend visibility for job %s: %w", jobID, err)
	}
	return nil
}

// Remove drops the entry without completing it.
func (s *Store) Remove(ctx context.Context, tx store.DBTransaction, jobID uuid.UUID) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, "DELETE FROM job_queue WHERE job_id = $1", jobID)
	if err != nil {
		return fmt.Errorf("failed to remove queue entry for job %s: %w", jobID, err)
	}
	return nil
}

// Counts reports waiting/active queue entries plus completed/failed job
// totals. Active means claimed by a worker and still within its
// visibility window; everything else, including entries waiting out a
// retry backoff, counts as waiting.
func (s *Store) Counts(ctx context.Context) (store.QueueCounts, error) {
	var counts store.QueueCounts

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT claimed OR visible_after <= NOW()),
			COUNT(*) FILTER (WHERE claimed AND visible_after > NOW())
		FROM job_queue
	`).Scan(&counts.Waiting, &counts.Active)
	if err != nil {
		return store.QueueCounts{}, fmt.Errorf("failed to count queue entries: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2)
		FROM jobs
	`, store.JobStatusCompleted, store.JobStatusFailed).Scan(&counts.Completed, &counts.Failed)
	if err != nil {
		return store.QueueCounts{}, fmt.Errorf("failed to count job outcomes: %w", err)
	}

	return counts, nil
}
