package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Audit actions emitted by admin and settlement paths.
const (
	ActionReprocessJob      = "REPROCESS_JOB"
	ActionForceFailJob      = "FORCE_FAIL_JOB"
	ActionRefundJob         = "REFUND_JOB"
	ActionApproveRefund     = "APPROVE_REFUND"
	ActionRejectRefund      = "REJECT_REFUND"
	ActionAdjustCredits     = "ADJUST_CREDITS"
	ActionRequestAdjustment = "REQUEST_ADJUSTMENT"
	ActionApproveAdjustment = "APPROVE_ADJUSTMENT"
	ActionRejectAdjustment  = "REJECT_ADJUSTMENT"
)

// Actor identifies who performed an audited action.
type Actor struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

// SystemActorRef is the actor used for automated settlement.
var SystemActorRef = Actor{ID: SystemActorID, Email: SystemActor}

type AuditRecord struct {
	ID         uuid.UUID       `json:"id"`
	Actor      Actor           `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Severity   Severity        `json:"severity"`
	CreatedAt  time.Time       `json:"created_at"`
}
