package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the provider-independent status taxonomy.
type PaymentStatus string

const (
	PaymentPaid     PaymentStatus = "paid"
	PaymentPending  PaymentStatus = "pending"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentUnknown  PaymentStatus = "unknown"
)

// PaymentEvent is written at most once per (Provider, ExternalID).
type PaymentEvent struct {
	ID               uuid.UUID       `json:"id"`
	Provider         string          `json:"provider"`
	ExternalID       string          `json:"external_id"`
	EventType        string          `json:"event_type"`
	ProviderStatus   string          `json:"provider_status"`
	NormalizedStatus PaymentStatus   `json:"normalized_status"`
	AccountID        *uuid.UUID      `json:"account_id,omitempty"`
	PlanID           string          `json:"plan_id,omitempty"`
	PaymentRef       string          `json:"payment_ref,omitempty"`
	CreditsAdded     int64           `json:"credits_added"`
	Amount           decimal.Decimal `json:"amount"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

const ReversalOpen = "OPEN"

// PaymentReversal tracks credits granted by a payment the provider later refunded.
type PaymentReversal struct {
	ID             uuid.UUID `json:"id"`
	AccountID      uuid.UUID `json:"account_id"`
	Provider       string    `json:"provider"`
	PaymentRef     string    `json:"payment_ref"`
	PaymentEventID uuid.UUID `json:"payment_event_id"`
	CreditsOwed    int64     `json:"credits_owed"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}
