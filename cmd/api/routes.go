package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/convertcredits/backend/internal/admin"
	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/auth"
	"github.com/convertcredits/backend/internal/config"
	"github.com/convertcredits/backend/internal/dashboard"
	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/jobs"
	"github.com/convertcredits/backend/internal/metrics"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/payments"
	"github.com/convertcredits/backend/internal/refunds"
	"github.com/convertcredits/backend/internal/registry"
	"github.com/convertcredits/backend/internal/router"
)

// httpHandler builds the outer handler: API routes, metrics and health,
// wrapped in CORS.
func (a *application) httpHandler(cfg *config.Config) http.Handler {
	mpEnabled, stripeEnabled := cfg.WebhooksEnabled()
	if !mpEnabled || !stripeEnabled {
		a.logger.Warn("webhook secret not configured, deliveries will be rejected",
			"mercadopago", mpEnabled, "stripe", stripeEnabled)
	}

	api := router.New(router.Handlers{
		Auth:      auth.NewHandler(a.auth, a.logger),
		Jobs:      jobs.NewHandler(a.jobs, a.logger),
		Refunds:   refunds.NewHandler(a.refunds, a.logger),
		Admin:     admin.NewHandler(a.admin, a.logger),
		Audit:     audit.NewHandler(a.auditLog, a.logger),
		Dashboard: dashboard.NewHandler(a.accounts, a.entries, a.logger),
		APIKeys:   registry.NewHandler(a.keys, a.logger),
		Webhooks: payments.NewWebhookHandler(a.payments, a.lookup, payments.WebhookSecrets{
			MercadoPago: cfg.MercadoPagoWebhookSecret,
			Stripe:      cfg.StripeWebhookSecret,
		}, a.payments.Metrics, a.logger),
		JobTypes: handlers.JobTypes(a.policies),
	}, router.Security{
		Tokens:  a.auth,
		Keys:    a.apiKeys,
		Limiter: middleware.NewAccountLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		Logger:  a.logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/v1/", api)
	mux.Handle("/webhooks/", api)
	mux.Handle("GET /metrics", metrics.Handler(a.registry))
	mux.HandleFunc("GET /healthz", a.healthz)

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		AllowCredentials: true,
	}).Handler(mux)
}

func (a *application) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.pool.Ping(ctx); err != nil {
		a.logger.Warn("health check failed", "error", err)
		handlers.WriteError(w, http.StatusServiceUnavailable, handlers.CodeInternal, "database unreachable")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
