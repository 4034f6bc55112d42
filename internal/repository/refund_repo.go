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

// RefundActiveIndex is the partial unique index allowing one non-rejected request per job.
const RefundActiveIndex = "refund_requests_one_active_per_job"

// ErrActiveRefundExists is returned when the partial unique index rejects an insert.
var ErrActiveRefundExists = errors.New("active refund request exists for job")

type RefundRepo struct {
	pool *pgxpool.Pool
}

func NewRefundRepo(pool *pgxpool.Pool) *RefundRepo {
	return &RefundRepo{pool: pool}
}

const refundColumns = `id, job_id, account_id, amount, status, reason, failure_stage, auto_refund,
	processed_by, processed_at, admin_notes, created_at`

func scanRefund(row pgx.Row) (*models.RefundRequest, error) {
	var r models.RefundRequest
	if err := row.Scan(&r.ID, &r.JobID, &r.AccountID, &r.Amount, &r.Status, &r.Reason, &r.FailureStage,
		&r.AutoRefund, &r.ProcessedBy, &r.ProcessedAt, &r.AdminNotes, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *RefundRepo) CreateTx(ctx context.Context, tx pgx.Tx, req *models.RefundRequest) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO refund_requests (id, job_id, account_id, amount, status, reason, failure_stage, auto_refund,
			processed_by, processed_at, admin_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`, req.ID, req.JobID, req.AccountID, req.Amount, req.Status, req.Reason, req.FailureStage, req.AutoRefund,
		req.ProcessedBy, req.ProcessedAt, req.AdminNotes).Scan(&req.CreatedAt)
	if IsUniqueViolation(err, RefundActiveIndex) {
		return ErrActiveRefundExists
	}
	return err
}

// FindActiveByJobTx returns the non-rejected request for the job, or ErrNotFound.
func (r *RefundRepo) FindActiveByJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.RefundRequest, error) {
	req, err := scanRefund(tx.QueryRow(ctx, `
		SELECT `+refundColumns+` FROM refund_requests WHERE job_id = $1 AND status <> 'REJECTED'
	`, jobID))
	return req, notFound(err)
}

// GetTx reads a request without locking it.
func (r *RefundRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RefundRequest, error) {
	req, err := scanRefund(tx.QueryRow(ctx, `
		SELECT `+refundColumns+` FROM refund_requests WHERE id = $1
	`, id))
	return req, notFound(err)
}

func (r *RefundRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.RefundRequest, error) {
	req, err := scanRefund(tx.QueryRow(ctx, `
		SELECT `+refundColumns+` FROM refund_requests WHERE id = $1 FOR UPDATE
	`, id))
	return req, notFound(err)
}

// DecideTx closes a PENDING request. Returns ErrConditionFailed if it was already decided.
func (r *RefundRepo) DecideTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.RefundStatus, processedBy string, notes *string, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE refund_requests SET status = $2, processed_by = $3, processed_at = $4, admin_notes = $5
		WHERE id = $1 AND status = 'PENDING'
	`, id, status, processedBy, at, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (r *RefundRepo) ListByStatus(ctx context.Context, status models.RefundStatus, limit int) ([]*models.RefundRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+refundColumns+` FROM refund_requests WHERE status = $1 ORDER BY created_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.RefundRequest{}
	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	return list, rows.Err()
}
