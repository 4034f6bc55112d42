package jobs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/execution"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/refunds"
)

// Store is the job repository surface used by admission. *repository.JobRepo satisfies it.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Job, error)
	CancelTx(ctx context.Context, tx pgx.Tx, id, accountID uuid.UUID) (*models.Job, error)
}

// Dispatcher makes a committed job visible to the worker pool. *execution.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, j *models.Job, repair bool) (execution.DispatchResult, error)
}

// Refunder credits a cancelled job back in the cancelling transaction. *refunds.Service satisfies it.
type Refunder interface {
	AutoRefundTx(ctx context.Context, tx pgx.Tx, job *models.Job, reason string) (*refunds.Settlement, error)
	Committed(ctx context.Context, s *refunds.Settlement)
}
