package models

import (
	"time"

	"github.com/google/uuid"
)

type RefundStatus string

const (
	RefundPending      RefundStatus = "PENDING"
	RefundApproved     RefundStatus = "APPROVED"
	RefundAutoApproved RefundStatus = "AUTO_APPROVED"
	RefundRejected     RefundStatus = "REJECTED"
)

// Credited reports whether the request has already returned credits to the account.
func (s RefundStatus) Credited() bool {
	return s == RefundApproved || s == RefundAutoApproved
}

type RefundRequest struct {
	ID           uuid.UUID    `json:"id"`
	JobID        uuid.UUID    `json:"job_id"`
	AccountID    uuid.UUID    `json:"account_id"`
	Amount       int64        `json:"amount"`
	Status       RefundStatus `json:"status"`
	Reason       string       `json:"reason"`
	FailureStage FailureStage `json:"failure_stage,omitempty"`
	AutoRefund   bool         `json:"auto_refund"`
	ProcessedBy  *string      `json:"processed_by,omitempty"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty"`
	AdminNotes   *string      `json:"admin_notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
