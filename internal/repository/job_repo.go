package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertcredits/backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

const jobColumns = `id, account_id, job_type, status, cost_charged, attempts, reprocess_count, progress, error,
	failure_stage, failure_cause, result_ref, payload, metadata, created_at, started_at, finished_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.AccountID, &j.JobType, &j.Status, &j.CostCharged, &j.Attempts, &j.ReprocessCount,
		&j.Progress, &j.Error, &j.FailureStage, &j.FailureCause, &j.ResultRef, &j.Payload, &j.Metadata,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateTx inserts a new job row inside the admission transaction.
func (r *JobRepo) CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	return tx.QueryRow(ctx, `
		INSERT INTO jobs (id, account_id, job_type, status, cost_charged, payload, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, j.ID, j.AccountID, j.JobType, j.Status, j.CostCharged, j.Payload, j.Metadata).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	return j, notFound(err)
}

// GetForUpdateTx locks the job row. Settlement and admin actions serialize on it.
func (r *JobRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	return j, notFound(err)
}

func (r *JobRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// ListStuckQueued returns queued jobs created before cutoff, oldest first.
func (r *JobRepo) ListStuckQueued(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'queued' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// MarkEnqueuePending records a failed dispatch so the sweeper's log explains the repair.
func (r *JobRepo) MarkEnqueuePending(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET metadata = metadata || jsonb_build_object(
			'enqueue_pending', true, 'enqueue_error', $2::text, 'enqueue_failed_at', $3::timestamptz),
			updated_at = now()
		WHERE id = $1
	`, id, reason, at)
	return err
}

// MarkDispatched stores the queue job id and clears the pending flag. repaired
// bumps the sweeper repair counter.
func (r *JobRepo) MarkDispatched(ctx context.Context, id uuid.UUID, queueJobID int64, repaired bool, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET metadata = (metadata - 'enqueue_pending' - 'enqueue_error')
			|| jsonb_build_object('queue_job_id', $2::bigint)
			|| CASE WHEN $3 THEN jsonb_build_object(
				'repairs', COALESCE((metadata->>'repairs')::int, 0) + 1,
				'last_repair_at', $4::timestamptz) ELSE '{}'::jsonb END,
			updated_at = now()
		WHERE id = $1
	`, id, queueJobID, repaired, at)
	return err
}

// Claim moves a job into processing for one execution attempt. A first
// attempt requires status queued; a retry requires the job to still be
// processing. It returns false when another owner changed the status.
func (r *JobRepo) Claim(ctx context.Context, id uuid.UUID, retry bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'processing', attempts = attempts + 1,
			started_at = COALESCE(started_at, now()), error = NULL, updated_at = now()
		WHERE id = $1 AND (status = 'queued' OR (status = 'processing' AND $2))
	`, id, retry)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET progress = $2, updated_at = now() WHERE id = $1 AND status = 'processing'
	`, id, progress)
	return err
}

// RecordAttemptError keeps the latest transient error visible while a retry is pending.
func (r *JobRepo) RecordAttemptError(ctx context.Context, id uuid.UUID, msg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET error = $2, updated_at = now() WHERE id = $1 AND status = 'processing'
	`, id, msg)
	return err
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id uuid.UUID, resultRef string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'completed', result_ref = $2, progress = 100, error = NULL,
			finished_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, resultRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, msg string, stage models.FailureStage, cause models.FailureCause) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, failure_stage = $3, failure_cause = $4,
			finished_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, msg, stage, cause)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelTx fails a job that no worker has claimed yet.
func (r *JobRepo) CancelTx(ctx context.Context, tx pgx.Tx, id, accountID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'failed', error = 'cancelled by user', failure_stage = 'PRE_PROCESS',
			failure_cause = 'cancelled', finished_at = now(), updated_at = now()
		WHERE id = $1 AND account_id = $2 AND status = 'queued'
		RETURNING `+jobColumns, id, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConditionFailed
	}
	return j, err
}

// ResetForReprocessTx moves a failed job back to queued and clears its error state.
func (r *JobRepo) ResetForReprocessTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'queued', progress = 0, error = NULL, failure_stage = '', failure_cause = '',
			result_ref = NULL, started_at = NULL, finished_at = NULL,
			attempts = attempts + 1, reprocess_count = reprocess_count + 1,
			metadata = metadata - 'enqueue_pending' - 'enqueue_error' - 'force_failed_by',
			updated_at = now()
		WHERE id = $1 AND status = 'failed'
		RETURNING `+jobColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConditionFailed
	}
	return j, err
}

// ForceFailTx fails a queued or processing job on behalf of an administrator.
func (r *JobRepo) ForceFailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason, actor string) (*models.Job, error) {
	j, err := scanJob(tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, failure_stage = CASE WHEN status = 'queued' THEN 'PRE_PROCESS' ELSE 'DURING_PROCESS' END,
			failure_cause = 'admin', finished_at = now(),
			metadata = metadata || jsonb_build_object('force_failed_by', $3::text),
			updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'processing')
		RETURNING `+jobColumns, id, reason, actor))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConditionFailed
	}
	return j, err
}
