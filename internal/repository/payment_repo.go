package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertcredits/backend/internal/models"
)

// ErrDuplicatePaymentEvent is returned when (provider, external_id) already exists.
var ErrDuplicatePaymentEvent = errors.New("payment event already recorded")

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

const paymentColumns = `id, provider, external_id, event_type, provider_status, normalized_status, account_id,
	plan_id, payment_ref, credits_added, amount, raw_payload, created_at`

func scanPayment(row pgx.Row) (*models.PaymentEvent, error) {
	var e models.PaymentEvent
	if err := row.Scan(&e.ID, &e.Provider, &e.ExternalID, &e.EventType, &e.ProviderStatus, &e.NormalizedStatus,
		&e.AccountID, &e.PlanID, &e.PaymentRef, &e.CreditsAdded, &e.Amount, &e.RawPayload, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PaymentRepo) FindByExternalIDTx(ctx context.Context, tx pgx.Tx, provider, externalID string) (*models.PaymentEvent, error) {
	e, err := scanPayment(tx.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payment_events WHERE provider = $1 AND external_id = $2
	`, provider, externalID))
	return e, notFound(err)
}

// FindCreditedByRefTx returns the event that credited the given provider payment, if any.
func (r *PaymentRepo) FindCreditedByRefTx(ctx context.Context, tx pgx.Tx, provider, paymentRef string) (*models.PaymentEvent, error) {
	e, err := scanPayment(tx.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payment_events
		WHERE provider = $1 AND payment_ref = $2 AND credits_added > 0
		ORDER BY created_at LIMIT 1
	`, provider, paymentRef))
	return e, notFound(err)
}

func (r *PaymentRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.PaymentEvent) error {
	var raw any
	if len(e.RawPayload) > 0 {
		raw = e.RawPayload
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO payment_events (id, provider, external_id, event_type, provider_status, normalized_status,
			account_id, plan_id, payment_ref, credits_added, amount, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, e.ID, e.Provider, e.ExternalID, e.EventType, e.ProviderStatus, e.NormalizedStatus,
		e.AccountID, e.PlanID, e.PaymentRef, e.CreditsAdded, e.Amount, raw).Scan(&e.CreatedAt)
	if IsUniqueViolation(err, "") {
		return ErrDuplicatePaymentEvent
	}
	return err
}

func (r *PaymentRepo) CreateReversalTx(ctx context.Context, tx pgx.Tx, rev *models.PaymentReversal) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payment_reversals (id, account_id, provider, payment_ref, payment_event_id, credits_owed, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, rev.ID, rev.AccountID, rev.Provider, rev.PaymentRef, rev.PaymentEventID, rev.CreditsOwed, rev.Status).Scan(&rev.CreatedAt)
}
