package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMercadoPagoURL is the production API base.
const DefaultMercadoPagoURL = "https://api.mercadopago.com"

// ErrMalformedReference is returned when external_reference is not "<accountId>:<planId>".
var ErrMalformedReference = errors.New("malformed external reference")

// MercadoPagoNotification is the webhook body. It only names the payment;
// its state is fetched from the API.
type MercadoPagoNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

type MercadoPagoPayment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
}

// PaymentLookup fetches a payment by id.
type PaymentLookup interface {
	GetPayment(ctx context.Context, id string) (*MercadoPagoPayment, error)
}

type MercadoPagoClient struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

func NewMercadoPagoClient(baseURL, accessToken string) *MercadoPagoClient {
	if baseURL == "" {
		baseURL = DefaultMercadoPagoURL
	}
	return &MercadoPagoClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *MercadoPagoClient) GetPayment(ctx context.Context, id string) (*MercadoPagoPayment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch payment %s: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var p MercadoPagoPayment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", id, err)
	}
	return &p, nil
}

// ParseReference splits "<accountId>:<planId>".
func ParseReference(ref string) (uuid.UUID, string, error) {
	account, plan, ok := strings.Cut(ref, ":")
	if !ok || plan == "" {
		return uuid.Nil, "", fmt.Errorf("%w: %q", ErrMalformedReference, ref)
	}
	id, err := uuid.Parse(account)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %q", ErrMalformedReference, ref)
	}
	return id, plan, nil
}

// MercadoPagoEvent turns a fetched payment into an Event. The external id
// pairs the payment id with its normalized status, so each state transition
// of one payment is applied once.
func MercadoPagoEvent(n MercadoPagoNotification, p *MercadoPagoPayment, raw json.RawMessage) (Event, error) {
	account, plan, err := ParseReference(p.ExternalReference)
	if err != nil {
		return Event{}, err
	}
	status := Normalize(ProviderMercadoPago, p.Status)
	eventType := n.Action
	if eventType == "" {
		eventType = n.Type
	}
	return Event{
		Provider:       ProviderMercadoPago,
		ExternalID:     p.ID.String() + ":" + string(status),
		EventType:      eventType,
		ProviderStatus: p.Status,
		AccountID:      account,
		Amount:         p.TransactionAmount,
		PlanID:         plan,
		PaymentRef:     p.ID.String(),
		RawPayload:     raw,
	}, nil
}
