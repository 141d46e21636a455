package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docqa/engine/internal/domain/docqa"
)

// JobQueue implements C4: a durable priority/FIFO queue with SKIP LOCKED
// leasing.
type JobQueue struct {
	pool *pgxpool.Pool
}

// NewJobQueue constructs the job queue.
func NewJobQueue(pool *pgxpool.Pool) *JobQueue {
	return &JobQueue{pool: pool}
}

func (q *JobQueue) Enqueue(ctx context.Context, documentID uuid.UUID, priority int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO processing_jobs (id, document_id, status, priority, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())
	`, id, documentID, docqa.JobQueued, priority, defaultMaxAttempts)
	return id, err
}

const defaultMaxAttempts = 3

// LeaseNext atomically claims up to batch queued jobs (lowest priority
// value, then oldest, first) via SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent workers never double-claim the same row.
func (q *JobQueue) LeaseNext(ctx context.Context, workerID string, leaseDuration time.Duration, batch int) ([]docqa.ProcessingJob, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM processing_jobs
		WHERE status = $1
		ORDER BY priority ASC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, docqa.JobQueued, batch)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	lockedUntil := time.Now().UTC().Add(leaseDuration)
	leased, err := tx.Query(ctx, `
		UPDATE processing_jobs
		SET status = $1, locked_by = $2, locked_until = $3, started_at = COALESCE(started_at, NOW()), attempts = attempts + 1
		WHERE id = ANY($4)
		RETURNING id, document_id, status, priority, attempts, max_attempts, last_error, locked_by, locked_until, created_at, started_at, completed_at
	`, docqa.JobProcessing, workerID, lockedUntil, ids)
	if err != nil {
		return nil, err
	}
	jobs, err := scanJobs(leased)
	if err != nil {
		return nil, err
	}
	return jobs, tx.Commit(ctx)
}

func scanJobs(rows pgx.Rows) ([]docqa.ProcessingJob, error) {
	defer rows.Close()
	var jobs []docqa.ProcessingJob
	for rows.Next() {
		var j docqa.ProcessingJob
		if err := rows.Scan(&j.ID, &j.DocumentID, &j.Status, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.LockedBy, &j.LockedUntil, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (q *JobQueue) RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, duration time.Duration) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE processing_jobs SET locked_until = $1
		WHERE id = $2 AND locked_by = $3 AND status = $4
	`, time.Now().UTC().Add(duration), jobID, workerID, docqa.JobProcessing)
	return err
}

func (q *JobQueue) Complete(ctx context.Context, jobID uuid.UUID) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE processing_jobs SET status = $1, completed_at = NOW(), locked_by = NULL, locked_until = NULL
		WHERE id = $2
	`, docqa.JobCompleted, jobID)
	return err
}

// Fail records the error and either requeues (attempts < max_attempts) or
// terminally fails the job.
func (q *JobQueue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET last_error = $1,
			status = CASE WHEN attempts < max_attempts THEN $2 ELSE $3 END,
			completed_at = CASE WHEN attempts < max_attempts THEN completed_at ELSE NOW() END,
			locked_by = NULL, locked_until = NULL
		WHERE id = $4
	`, errMsg, docqa.JobQueued, docqa.JobFailed, jobID)
	return err
}

// ReleaseStale reverts PROCESSING jobs whose lease has expired back to
// QUEUED so another worker can pick them up.
func (q *JobQueue) ReleaseStale(ctx context.Context) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE processing_jobs
		SET status = $1, locked_by = NULL, locked_until = NULL
		WHERE status = $2 AND locked_until < NOW()
	`, docqa.JobQueued, docqa.JobProcessing)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ docqa.JobQueue = (*JobQueue)(nil)
