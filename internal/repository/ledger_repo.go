package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertcredits/backend/internal/models"
)

// LedgerRepo stores ledger_entries. There is deliberately no update or delete.
type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `id, account_id, amount, kind, balance_before, balance_after, job_id, payment_event_id, description, created_at`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.BalanceBefore, &e.BalanceAfter,
		&e.JobID, &e.PaymentEventID, &e.Description, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTx appends an entry inside the given transaction.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, kind, balance_before, balance_after, job_id, payment_event_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Amount, e.Kind, e.BalanceBefore, e.BalanceAfter, e.JobID, e.PaymentEventID, e.Description).Scan(&e.CreatedAt)
}

// FindChargeForJobTx returns the CONSUMPTION entry written when the job was admitted.
func (r *LedgerRepo) FindChargeForJobTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE job_id = $1 AND kind = 'CONSUMPTION'
		ORDER BY created_at LIMIT 1
	`, jobID))
	return e, notFound(err)
}

func (r *LedgerRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Mismatch is an account whose balance differs from the sum of its entries.
type Mismatch struct {
	AccountID  uuid.UUID `json:"account_id"`
	Balance    int64     `json:"balance"`
	LedgerSum  int64     `json:"ledger_sum"`
	EntryCount int64     `json:"entry_count"`
}

// FindMismatches returns every account violating balance == sum(entries).
func (r *LedgerRepo) FindMismatches(ctx context.Context) ([]Mismatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.account_id, b.balance, COALESCE(SUM(e.amount), 0), COUNT(e.id)
		FROM account_balances b
		LEFT JOIN ledger_entries e ON e.account_id = b.account_id
		GROUP BY b.account_id, b.balance
		HAVING b.balance <> COALESCE(SUM(e.amount), 0)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.AccountID, &m.Balance, &m.LedgerSum, &m.EntryCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
