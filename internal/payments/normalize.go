// Package payments turns provider webhook notifications into at most one
// credit purchase per provider payment state.
package payments

import (
	"strings"

	"github.com/convertcredits/backend/internal/models"
)

// Providers.
const (
	ProviderMercadoPago = "mercadopago"
	ProviderStripe      = "stripe"
)

var statusTables = map[string]map[string]models.PaymentStatus{
	ProviderMercadoPago: {
		"approved":     models.PaymentPaid,
		"authorized":   models.PaymentPaid,
		"pending":      models.PaymentPending,
		"in_process":   models.PaymentPending,
		"in_mediation": models.PaymentPending,
		"rejected":     models.PaymentFailed,
		"cancelled":    models.PaymentFailed,
		"refunded":     models.PaymentRefunded,
		"charged_back": models.PaymentRefunded,
	},
	// no_payment_required is left out: nothing was charged, so nothing is credited.
	ProviderStripe: {
		"paid":     models.PaymentPaid,
		"unpaid":   models.PaymentPending,
		"failed":   models.PaymentFailed,
		"expired":  models.PaymentFailed,
		"canceled": models.PaymentFailed,
		"refunded": models.PaymentRefunded,
	},
}

// Normalize maps a provider status onto the shared taxonomy. Unmapped
// statuses and providers yield PaymentUnknown.
func Normalize(provider, status string) models.PaymentStatus {
	table, ok := statusTables[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return models.PaymentUnknown
	}
	if s, ok := table[strings.ToLower(strings.TrimSpace(status))]; ok {
		return s
	}
	return models.PaymentUnknown
}
