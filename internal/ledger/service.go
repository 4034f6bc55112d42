package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

// ErrInsufficientCredits is matched by every *InsufficientCreditsError.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrInvalidAmount is returned for zero or wrongly signed postings.
var ErrInvalidAmount = errors.New("invalid posting amount")

// InsufficientCreditsError carries the numbers shown to the client on a 402.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// WelcomeBonus is granted once when an account is opened.
const WelcomeBonus int64 = 5

// Posting describes one balance mutation. Amount is always positive for
// Debit and Credit; Adjust accepts a signed amount.
type Posting struct {
	AccountID      uuid.UUID
	Amount         int64
	Kind           models.LedgerKind
	JobID          *uuid.UUID
	PaymentEventID *uuid.UUID
	Description    string
}

// Service mutates account balances and appends the matching ledger entry in
// the caller's transaction. Every mutation holds the balance row lock, so
// entries are ordered by commit per account.
type Service struct {
	Accounts AccountStore
	Entries  EntryStore
}

func NewService(accounts AccountStore, entries EntryStore) *Service {
	return &Service{Accounts: accounts, Entries: entries}
}

// Debit locks the balance row, checks it covers p.Amount, deducts it with a
// conditional update and writes a negative entry. A missing balance row is
// treated as zero.
func (s *Service) Debit(ctx context.Context, tx pgx.Tx, p Posting) (*models.LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	before, _, err := s.Accounts.GetBalanceForUpdate(ctx, tx, p.AccountID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	if before < p.Amount {
		return nil, &InsufficientCreditsError{Required: p.Amount, Available: before}
	}
	after, err := s.Accounts.DeductCredits(ctx, tx, p.AccountID, p.Amount)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, &InsufficientCreditsError{Required: p.Amount, Available: before}
	}
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}
	return s.append(ctx, tx, p, -p.Amount, after+p.Amount, after)
}

// Credit creates the balance row if needed, adds p.Amount and writes a positive entry.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, p Posting) (*models.LedgerEntry, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.Accounts.EnsureBalance(ctx, tx, p.AccountID); err != nil {
		return nil, fmt.Errorf("ensure balance: %w", err)
	}
	if _, _, err := s.Accounts.GetBalanceForUpdate(ctx, tx, p.AccountID); err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	after, err := s.Accounts.AddCredits(ctx, tx, p.AccountID, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("add credits: %w", err)
	}
	return s.append(ctx, tx, p, p.Amount, after-p.Amount, after)
}

// Adjust applies a signed manual correction as an ADJUSTMENT entry. A negative
// adjustment larger than the balance fails with InsufficientCreditsError.
func (s *Service) Adjust(ctx context.Context, tx pgx.Tx, p Posting) (*models.LedgerEntry, error) {
	p.Kind = models.LedgerAdjustment
	switch {
	case p.Amount > 0:
		return s.Credit(ctx, tx, p)
	case p.Amount < 0:
		p.Amount = -p.Amount
		return s.Debit(ctx, tx, p)
	}
	return nil, ErrInvalidAmount
}

// OpenAccount grants the welcome bonus to a freshly registered account.
func (s *Service) OpenAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.LedgerEntry, error) {
	return s.Credit(ctx, tx, Posting{
		AccountID:   accountID,
		Amount:      WelcomeBonus,
		Kind:        models.LedgerBonus,
		Description: "welcome bonus",
	})
}

func (s *Service) append(ctx context.Context, tx pgx.Tx, p Posting, signed, before, after int64) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{
		ID:             uuid.New(),
		AccountID:      p.AccountID,
		Amount:         signed,
		Kind:           p.Kind,
		BalanceBefore:  before,
		BalanceAfter:   after,
		JobID:          p.JobID,
		PaymentEventID: p.PaymentEventID,
		Description:    p.Description,
	}
	if err := s.Entries.CreateTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return entry, nil
}
