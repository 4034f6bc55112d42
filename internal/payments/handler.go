package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/metrics"
)

const maxWebhookBytes = 1 << 20

// Applier is implemented by *Service.
type Applier interface {
	ApplyPaymentEvent(ctx context.Context, ev Event) (*Result, error)
}

type WebhookSecrets struct {
	MercadoPago string
	Stripe      string
}

// WebhookHandler verifies provider signatures and applies the notified
// payment state. Permanent problems with a verified event are acknowledged
// with 200 so the provider stops retrying; transient ones answer 500.
type WebhookHandler struct {
	svc     Applier
	lookup  PaymentLookup
	secrets WebhookSecrets
	metrics *metrics.Collector
	log     *slog.Logger
	now     func() time.Time
}

func NewWebhookHandler(svc Applier, lookup PaymentLookup, secrets WebhookSecrets, m *metrics.Collector, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{svc: svc, lookup: lookup, secrets: secrets, metrics: m, log: log, now: time.Now}
}

type webhookResponse struct {
	Received bool    `json:"received"`
	Ignored  string  `json:"ignored,omitempty"`
	Result   *Result `json:"result,omitempty"`
}

// MercadoPago handles POST /webhooks/mercadopago.
func (h *WebhookHandler) MercadoPago(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	// An unparsable body leaves the id empty and fails verification below.
	var n MercadoPagoNotification
	_ = json.Unmarshal(body, &n)
	dataID := r.URL.Query().Get("data.id")
	if dataID == "" {
		dataID = n.Data.ID.String()
	}
	if err := VerifyMercadoPago(h.secrets.MercadoPago, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), dataID, h.now()); err != nil {
		h.rejectSignature(w, r, ProviderMercadoPago)
		return
	}
	if n.Type != "payment" || dataID == "" {
		handlers.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: "not a payment notification"})
		return
	}
	payment, err := h.lookup.GetPayment(r.Context(), dataID)
	if err != nil {
		h.log.Error("mercadopago payment lookup failed", "payment_id", dataID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "payment lookup failed")
		return
	}
	ev, err := MercadoPagoEvent(n, payment, body)
	if err != nil {
		h.log.Warn("mercadopago payment not attributable", "payment_id", payment.ID, "error", err)
		handlers.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: err.Error()})
		return
	}
	h.apply(w, r, ev)
}

// Stripe handles POST /webhooks/stripe.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := VerifyStripe(h.secrets.Stripe, r.Header.Get("stripe-signature"), body, h.now()); err != nil {
		h.rejectSignature(w, r, ProviderStripe)
		return
	}
	var e StripeEvent
	if err := json.Unmarshal(body, &e); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, handlers.CodeInvalidRequest, "invalid JSON")
		return
	}
	ev, err := StripePaymentEvent(e, body)
	if err != nil {
		if !errors.Is(err, ErrIgnoredEvent) {
			h.log.Warn("stripe event not attributable", "event_id", e.ID, "error", err)
		}
		handlers.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: err.Error()})
		return
	}
	h.apply(w, r, ev)
}

func (h *WebhookHandler) apply(w http.ResponseWriter, r *http.Request, ev Event) {
	res, err := h.svc.ApplyPaymentEvent(r.Context(), ev)
	switch {
	case errors.Is(err, ErrUnknownPlan), errors.Is(err, ErrMissingAccount):
		handlers.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: err.Error()})
	case err != nil:
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "payment processing failed")
	default:
		handlers.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Result: res})
	}
}

func (h *WebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, handlers.CodeInvalidRequest, "unreadable body")
		return nil, false
	}
	return body, true
}

func (h *WebhookHandler) rejectSignature(w http.ResponseWriter, r *http.Request, provider string) {
	h.metrics.RecordSignatureFailure(provider)
	h.log.Warn("webhook signature rejected", "security_event", true, "provider", provider,
		"remote_addr", r.RemoteAddr, "request_id", r.Header.Get("x-request-id"))
	handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeInvalidSignature, ErrInvalidSignature.Error())
}

// ListPlans handles GET /v1/plans.
func ListPlans(w http.ResponseWriter, _ *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, Plans())
}
