package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertcredits/backend/internal/models"
)

// ErrConditionFailed is returned when a conditional UPDATE matched no row.
var ErrConditionFailed = errors.New("condition not met")

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Get returns the balance row. A missing row is reported as a zero balance.
func (r *AccountRepo) Get(ctx context.Context, id uuid.UUID) (*models.AccountBalance, error) {
	a := models.AccountBalance{AccountID: id}
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, balance, created_at, updated_at
		FROM account_balances WHERE account_id = $1
	`, id).Scan(&a.AccountID, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &a, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetBalanceForUpdate locks the balance row for the rest of the transaction.
// exists is false when the account has never been credited.
func (r *AccountRepo) GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (balance int64, exists bool, err error) {
	err = tx.QueryRow(ctx, `
		SELECT balance FROM account_balances WHERE account_id = $1 FOR UPDATE
	`, id).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

// EnsureBalance creates the zero-balance row if it does not exist yet.
func (r *AccountRepo) EnsureBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO account_balances (account_id, balance) VALUES ($1, 0)
		ON CONFLICT (account_id) DO NOTHING
	`, id)
	return err
}

// DeductCredits atomically deducts amount if balance >= amount. Returns ErrConditionFailed otherwise.
func (r *AccountRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE account_balances SET balance = balance - $1, updated_at = now()
		WHERE account_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrConditionFailed
	}
	return newBalance, err
}

// AddCredits adds amount to the account and returns the new balance.
func (r *AccountRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE account_balances SET balance = balance + $1, updated_at = now()
		WHERE account_id = $2
		RETURNING balance
	`, amount, id).Scan(&newBalance)
	return newBalance, notFound(err)
}
