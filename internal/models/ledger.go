package models

import (
	"time"

	"github.com/google/uuid"
)

type LedgerKind string

const (
	LedgerPurchase    LedgerKind = "PURCHASE"
	LedgerConsumption LedgerKind = "CONSUMPTION"
	LedgerRefund      LedgerKind = "REFUND"
	LedgerBonus       LedgerKind = "BONUS"
	LedgerAdjustment  LedgerKind = "ADJUSTMENT"
)

// LedgerEntry is an immutable row in ledger_entries. Amount is signed:
// CONSUMPTION entries are negative, everything else is positive except
// ADJUSTMENT, which may be either.
type LedgerEntry struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	Amount         int64      `json:"amount"`
	Kind           LedgerKind `json:"kind"`
	BalanceBefore  int64      `json:"balance_before"`
	BalanceAfter   int64      `json:"balance_after"`
	JobID          *uuid.UUID `json:"job_id,omitempty"`
	PaymentEventID *uuid.UUID `json:"payment_event_id,omitempty"`
	Description    string     `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
