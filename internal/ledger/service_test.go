package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/ledger/ledgertest"
	"github.com/convertcredits/backend/internal/models"
)

// ---------------------------------------------------------------------------
// 1. Debit
// ---------------------------------------------------------------------------

func TestDebit(t *testing.T) {
	account := uuid.New()
	job := uuid.New()

	store := ledgertest.New()
	store.Seed(account, 5)
	svc := ledger.NewService(store, store)

	ctx := context.Background()
	entry, err := svc.Debit(ctx, nil, ledger.Posting{AccountID: account, Amount: 3, Kind: models.LedgerConsumption, JobID: &job})
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if got := store.Balance(account); got != 2 {
		t.Errorf("balance after debit: got %d, want 2", got)
	}
	if entry.Amount != -3 || entry.BalanceBefore != 5 || entry.BalanceAfter != 2 {
		t.Errorf("entry: got amount=%d before=%d after=%d, want -3/5/2", entry.Amount, entry.BalanceBefore, entry.BalanceAfter)
	}
	if entry.JobID == nil || *entry.JobID != job {
		t.Error("consumption entry should reference the job")
	}

	// Second debit of 3 against a balance of 2.
	_, err = svc.Debit(ctx, nil, ledger.Posting{AccountID: account, Amount: 3, Kind: models.LedgerConsumption})
	var ice *ledger.InsufficientCreditsError
	if !errors.As(err, &ice) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if ice.Required != 3 || ice.Available != 2 {
		t.Errorf("got required=%d available=%d, want 3/2", ice.Required, ice.Available)
	}
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Error("InsufficientCreditsError should match ErrInsufficientCredits")
	}
	if got := store.Balance(account); got != 2 {
		t.Errorf("rejected debit changed balance to %d", got)
	}
	if n := len(store.EntriesOf(models.LedgerConsumption)); n != 1 {
		t.Errorf("consumption entries: got %d, want 1", n)
	}
}

func TestDebit_MissingAccountReadsAsZero(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, store)

	_, err := svc.Debit(context.Background(), nil, ledger.Posting{AccountID: uuid.New(), Amount: 1, Kind: models.LedgerConsumption})
	var ice *ledger.InsufficientCreditsError
	if !errors.As(err, &ice) || ice.Available != 0 {
		t.Fatalf("expected InsufficientCreditsError with available 0, got %v", err)
	}
}

func TestDebit_RejectsNonPositive(t *testing.T) {
	store := ledgertest.New()
	svc := ledger.NewService(store, store)
	if _, err := svc.Debit(context.Background(), nil, ledger.Posting{AccountID: uuid.New(), Amount: 0}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 2. Credit / Adjust / OpenAccount
// ---------------------------------------------------------------------------

func TestCredit_CreatesBalanceRow(t *testing.T) {
	account := uuid.New()
	store := ledgertest.New()
	svc := ledger.NewService(store, store)

	entry, err := svc.Credit(context.Background(), nil, ledger.Posting{AccountID: account, Amount: 200, Kind: models.LedgerPurchase})
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if got := store.Balance(account); got != 200 {
		t.Errorf("balance: got %d, want 200", got)
	}
	if entry.BalanceBefore != 0 || entry.BalanceAfter != 200 || entry.Amount != 200 {
		t.Errorf("entry: got %+v", entry)
	}
}

func TestAdjust(t *testing.T) {
	account := uuid.New()
	store := ledgertest.New()
	store.Seed(account, 10)
	svc := ledger.NewService(store, store)
	ctx := context.Background()

	if _, err := svc.Adjust(ctx, nil, ledger.Posting{AccountID: account, Amount: -4}); err != nil {
		t.Fatalf("Adjust(-4): %v", err)
	}
	if _, err := svc.Adjust(ctx, nil, ledger.Posting{AccountID: account, Amount: 7}); err != nil {
		t.Fatalf("Adjust(+7): %v", err)
	}
	if got := store.Balance(account); got != 13 {
		t.Errorf("balance: got %d, want 13", got)
	}
	adj := store.EntriesOf(models.LedgerAdjustment)
	if len(adj) != 2 || adj[0].Amount != -4 || adj[1].Amount != 7 {
		t.Errorf("adjustment entries: %+v", adj)
	}
	if _, err := svc.Adjust(ctx, nil, ledger.Posting{AccountID: account, Amount: -100}); !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}
	if _, err := svc.Adjust(ctx, nil, ledger.Posting{AccountID: account}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestOpenAccount(t *testing.T) {
	account := uuid.New()
	store := ledgertest.New()
	svc := ledger.NewService(store, store)

	if _, err := svc.OpenAccount(context.Background(), nil, account); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if got := store.Balance(account); got != ledger.WelcomeBonus {
		t.Errorf("balance: got %d, want %d", got, ledger.WelcomeBonus)
	}
	if n := len(store.EntriesOf(models.LedgerBonus)); n != 1 {
		t.Errorf("bonus entries: got %d, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// 3. Concurrency: balance never goes negative
// ---------------------------------------------------------------------------

func TestDebit_ConcurrentNeverNegative(t *testing.T) {
	account := uuid.New()
	store := ledgertest.New()
	store.Seed(account, 10)
	svc := ledger.NewService(store, store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, rejected := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), nil, ledger.Posting{AccountID: account, Amount: 1, Kind: models.LedgerConsumption})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientCredits):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 || rejected != 40 {
		t.Errorf("got %d accepted, %d rejected; want 10/40", ok, rejected)
	}
	if got := store.Balance(account); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// 4. TestLedgerIntegrity
//    Mixed postings: SUM(entries per account) == current balance.
// ---------------------------------------------------------------------------

func TestLedgerIntegrity(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := ledgertest.New()
	svc := ledger.NewService(store, store)
	ctx := context.Background()

	steps := []struct {
		fn   func(context.Context, ledger.Posting) error
		post ledger.Posting
	}{
		{credit(svc), ledger.Posting{AccountID: a, Amount: 50, Kind: models.LedgerPurchase}},
		{debit(svc), ledger.Posting{AccountID: a, Amount: 3, Kind: models.LedgerConsumption}},
		{credit(svc), ledger.Posting{AccountID: a, Amount: 3, Kind: models.LedgerRefund}},
		{credit(svc), ledger.Posting{AccountID: b, Amount: 5, Kind: models.LedgerBonus}},
		{debit(svc), ledger.Posting{AccountID: b, Amount: 2, Kind: models.LedgerConsumption}},
		{adjust(svc), ledger.Posting{AccountID: b, Amount: -1}},
		{debit(svc), ledger.Posting{AccountID: b, Amount: 99, Kind: models.LedgerConsumption}},
	}
	for i, s := range steps {
		err := s.fn(ctx, s.post)
		if err != nil && !errors.Is(err, ledger.ErrInsufficientCredits) {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	for _, id := range []uuid.UUID{a, b} {
		if sum, bal := store.Sum(id), store.Balance(id); sum != bal {
			t.Errorf("account %s: ledger_sum %d != balance %d", id, sum, bal)
		}
	}
	if got := store.Balance(a); got != 50 {
		t.Errorf("account a: got %d, want 50", got)
	}
	if got := store.Balance(b); got != 2 {
		t.Errorf("account b: got %d, want 2", got)
	}

	for _, e := range store.Entries() {
		if e.BalanceAfter-e.BalanceBefore != e.Amount {
			t.Errorf("entry %s: after(%d)-before(%d) != amount(%d)", e.ID, e.BalanceAfter, e.BalanceBefore, e.Amount)
		}
	}
}

func credit(s *ledger.Service) func(context.Context, ledger.Posting) error {
	return func(ctx context.Context, p ledger.Posting) error { _, err := s.Credit(ctx, nil, p); return err }
}

func debit(s *ledger.Service) func(context.Context, ledger.Posting) error {
	return func(ctx context.Context, p ledger.Posting) error { _, err := s.Debit(ctx, nil, p); return err }
}

func adjust(s *ledger.Service) func(context.Context, ledger.Posting) error {
	return func(ctx context.Context, p ledger.Posting) error { _, err := s.Adjust(ctx, nil, p); return err }
}
