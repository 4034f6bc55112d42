package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/models"
)

// AccountStore is the minimal balance repository the ledger needs.
// *repository.AccountRepo satisfies it.
type AccountStore interface {
	GetBalanceForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (balance int64, exists bool, err error)
	EnsureBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (newBalance int64, err error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int64) (newBalance int64, err error)
}

// EntryStore appends ledger entries. *repository.LedgerRepo satisfies it.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}
