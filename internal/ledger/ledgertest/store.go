// Package ledgertest provides an in-memory balance and entry store for tests.
package ledgertest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

// Store implements ledger.AccountStore and ledger.EntryStore.
// A mutex stands in for the row lock.
type Store struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	entries  []*models.LedgerEntry

	// FailCreate makes the next CreateTx return this error.
	FailCreate error
}

func New() *Store {
	return &Store{balances: make(map[uuid.UUID]int64)}
}

// Seed sets a starting balance and records it as a BONUS entry so the
// ledger stays reconciled.
func (s *Store) Seed(id uuid.UUID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = balance
	s.entries = append(s.entries, &models.LedgerEntry{
		ID: uuid.New(), AccountID: id, Amount: balance, Kind: models.LedgerBonus, BalanceAfter: balance,
	})
}

func (s *Store) GetBalanceForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[id]
	return b, ok, nil
}

func (s *Store) EnsureBalance(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[id]; !ok {
		s.balances[id] = 0
	}
	return nil
}

func (s *Store) DeductCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[id]
	if !ok || b < amount {
		return 0, repository.ErrConditionFailed
	}
	s.balances[id] = b - amount
	return b - amount, nil
}

func (s *Store) AddCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	s.balances[id] = b + amount
	return b + amount, nil
}

func (s *Store) CreateTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailCreate; err != nil {
		s.FailCreate = nil
		return err
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *Store) Balance(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[id]
}

// SetBalance overwrites a balance without writing an entry.
func (s *Store) SetBalance(id uuid.UUID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[id] = balance
}

func (s *Store) Entries() []*models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LedgerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) EntriesOf(kind models.LedgerKind) []*models.LedgerEntry {
	var out []*models.LedgerEntry
	for _, e := range s.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// FindChargeForJobTx mirrors repository.LedgerRepo for refund tests.
func (s *Store) FindChargeForJobTx(_ context.Context, _ pgx.Tx, jobID uuid.UUID) (*models.LedgerEntry, error) {
	for _, e := range s.Entries() {
		if e.Kind == models.LedgerConsumption && e.JobID != nil && *e.JobID == jobID {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Sum returns the sum of entry amounts for the account.
func (s *Store) Sum(id uuid.UUID) int64 {
	var sum int64
	for _, e := range s.Entries() {
		if e.AccountID == id {
			sum += e.Amount
		}
	}
	return sum
}
