package models

import (
	"time"

	"github.com/google/uuid"
)

type AdjustmentStatus string

const (
	AdjustmentApplied         AdjustmentStatus = "APPLIED"
	AdjustmentPendingApproval AdjustmentStatus = "PENDING_APPROVAL"
	AdjustmentRejected        AdjustmentStatus = "REJECTED"
)

// AdjustmentRequest is a manual credit correction. Large ones need a second admin.
type AdjustmentRequest struct {
	ID            uuid.UUID        `json:"id"`
	AccountID     uuid.UUID        `json:"account_id"`
	Amount        int64            `json:"amount"`
	Reason        string           `json:"reason"`
	Status        AdjustmentStatus `json:"status"`
	RequestedBy   uuid.UUID        `json:"requested_by"`
	DecidedBy     *uuid.UUID       `json:"decided_by,omitempty"`
	DecidedAt     *time.Time       `json:"decided_at,omitempty"`
	LedgerEntryID *uuid.UUID       `json:"ledger_entry_id,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
