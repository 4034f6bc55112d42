package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/repository"
)

// MismatchFinder lists accounts whose balance differs from their entry sum.
// *repository.LedgerRepo satisfies it.
type MismatchFinder interface {
	FindMismatches(ctx context.Context) ([]repository.Mismatch, error)
}

// Reconciler checks balance == sum(entries) for every account. It only
// reports; repairs go through admin adjustments.
type Reconciler struct {
	Store   MismatchFinder
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

func NewReconciler(store MismatchFinder, m *metrics.Collector, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Store: store, Metrics: m, Logger: logger}
}

func (r *Reconciler) Check(ctx context.Context) ([]repository.Mismatch, error) {
	found, err := r.Store.FindMismatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("find ledger mismatches: %w", err)
	}
	r.Metrics.SetLedgerMismatches(len(found))
	for _, m := range found {
		r.Logger.Error("ledger mismatch", "account_id", m.AccountID, "balance", m.Balance,
			"ledger_sum", m.LedgerSum, "entries", m.EntryCount)
	}
	if len(found) == 0 {
		r.Logger.Info("ledger reconciled")
	}
	return found, nil
}
