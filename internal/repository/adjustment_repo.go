package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertcredits/backend/internal/models"
)

type AdjustmentRepo struct {
	pool *pgxpool.Pool
}

func NewAdjustmentRepo(pool *pgxpool.Pool) *AdjustmentRepo {
	return &AdjustmentRepo{pool: pool}
}

const adjustmentColumns = `id, account_id, amount, reason, status, requested_by, decided_by, decided_at, ledger_entry_id, created_at`

func scanAdjustment(row pgx.Row) (*models.AdjustmentRequest, error) {
	var a models.AdjustmentRequest
	if err := row.Scan(&a.ID, &a.AccountID, &a.Amount, &a.Reason, &a.Status, &a.RequestedBy,
		&a.DecidedBy, &a.DecidedAt, &a.LedgerEntryID, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AdjustmentRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.AdjustmentRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO adjustment_requests (id, account_id, amount, reason, status, requested_by, decided_by, decided_at, ledger_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, a.ID, a.AccountID, a.Amount, a.Reason, a.Status, a.RequestedBy, a.DecidedBy, a.DecidedAt, a.LedgerEntryID).Scan(&a.CreatedAt)
}

func (r *AdjustmentRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.AdjustmentRequest, error) {
	a, err := scanAdjustment(tx.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM adjustment_requests WHERE id = $1 FOR UPDATE`, id))
	return a, notFound(err)
}

// DecideTx closes a PENDING_APPROVAL request.
func (r *AdjustmentRepo) DecideTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status models.AdjustmentStatus, decidedBy uuid.UUID, ledgerEntryID *uuid.UUID, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE adjustment_requests SET status = $2, decided_by = $3, decided_at = $4, ledger_entry_id = $5
		WHERE id = $1 AND status = 'PENDING_APPROVAL'
	`, id, status, decidedBy, at, ledgerEntryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (r *AdjustmentRepo) ListPending(ctx context.Context, limit int) ([]*models.AdjustmentRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+adjustmentColumns+` FROM adjustment_requests WHERE status = 'PENDING_APPROVAL' ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AdjustmentRequest{}
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
