// Package dashboard serves the caller's own account view: balance and
// ledger history.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
)

// BalanceReader is satisfied by *repository.AccountRepo.
type BalanceReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.AccountBalance, error)
}

// EntryLister is satisfied by *repository.LedgerRepo.
type EntryLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type AccountResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	Balance   int64     `json:"balance"`
}

type Handler struct {
	balances BalanceReader
	entries  EntryLister
	log      *slog.Logger
}

func NewHandler(balances BalanceReader, entries EntryLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{balances: balances, entries: entries, log: log}
}

// GetAccount handles GET /v1/account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	acc, err := h.balances.Get(r.Context(), p.AccountID)
	if err != nil {
		h.log.Error("get balance failed", "account_id", p.AccountID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, AccountResponse{
		AccountID: p.AccountID,
		Email:     p.Email,
		Role:      p.Role,
		Balance:   acc.Balance,
	})
}

// ListLedger handles GET /v1/ledger?limit=N, newest first.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	limit := defaultLedgerLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			handlers.WriteError(w, http.StatusBadRequest, handlers.CodeInvalidRequest, "invalid limit")
			return
		}
		limit = min(n, maxLedgerLimit)
	}
	entries, err := h.entries.ListByAccountID(r.Context(), p.AccountID, limit)
	if err != nil {
		h.log.Error("list ledger failed", "account_id", p.AccountID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	handlers.WriteJSON(w, http.StatusOK, entries)
}
