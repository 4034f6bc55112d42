package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrIgnoredEvent marks Stripe event types we acknowledge without recording.
var ErrIgnoredEvent = errors.New("event type not handled")

// Stripe event types we act on.
const (
	StripeCheckoutCompleted     = "checkout.session.completed"
	StripeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	StripeAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	StripeCheckoutExpired       = "checkout.session.expired"
	StripeChargeRefunded        = "charge.refunded"
)

type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object StripeObject `json:"object"`
	} `json:"data"`
}

// StripeObject covers the fields we read from both checkout sessions and charges.
type StripeObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Amount        int64             `json:"amount"`
	Refunded      bool              `json:"refunded"`
	Metadata      map[string]string `json:"metadata"`
}

// StripeStatus derives the provider status a Stripe event reports.
func StripeStatus(e StripeEvent) (string, error) {
	switch e.Type {
	case StripeCheckoutCompleted:
		return e.Data.Object.PaymentStatus, nil
	case StripeAsyncPaymentSucceeded:
		return "paid", nil
	case StripeAsyncPaymentFailed:
		return "failed", nil
	case StripeCheckoutExpired:
		return "expired", nil
	case StripeChargeRefunded:
		return "refunded", nil
	}
	return "", fmt.Errorf("%w: %s", ErrIgnoredEvent, e.Type)
}

// StripePaymentEvent converts a verified Stripe event. The payment intent
// ties a checkout session to the charge refunded later.
func StripePaymentEvent(e StripeEvent, raw json.RawMessage) (Event, error) {
	providerStatus, err := StripeStatus(e)
	if err != nil {
		return Event{}, err
	}
	obj := e.Data.Object
	ref := obj.PaymentIntent
	if ref == "" {
		ref = obj.ID
	}
	cents := obj.AmountTotal
	if cents == 0 {
		cents = obj.Amount
	}
	var account uuid.UUID
	if s := obj.Metadata["account_id"]; s != "" {
		if account, err = uuid.Parse(s); err != nil {
			return Event{}, fmt.Errorf("%w: account_id %q", ErrMalformedReference, s)
		}
	}
	status := Normalize(ProviderStripe, providerStatus)
	return Event{
		Provider:       ProviderStripe,
		ExternalID:     ref + ":" + string(status),
		EventType:      e.Type,
		ProviderStatus: providerStatus,
		AccountID:      account,
		Amount:         decimal.New(cents, -2),
		PlanID:         obj.Metadata["plan_id"],
		PaymentRef:     ref,
		RawPayload:     raw,
	}, nil
}
