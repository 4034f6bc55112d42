package router

import (
	"log/slog"
	"net/http"

	"github.com/convertcredits/backend/internal/admin"
	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/auth"
	"github.com/convertcredits/backend/internal/dashboard"
	"github.com/convertcredits/backend/internal/jobs"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/payments"
	"github.com/convertcredits/backend/internal/refunds"
	"github.com/convertcredits/backend/internal/registry"
)

// Handlers groups the HTTP handlers served under /v1 and /webhooks.
type Handlers struct {
	Auth      *auth.Handler
	Jobs      *jobs.Handler
	Refunds   *refunds.Handler
	Admin     *admin.Handler
	Audit     *audit.Handler
	Dashboard *dashboard.Handler
	APIKeys   *registry.Handler
	Webhooks  *payments.WebhookHandler
	JobTypes  http.HandlerFunc
}

// Security holds what the auth middleware chain needs.
type Security struct {
	Tokens  middleware.TokenValidator
	Keys    middleware.APIKeyRepo
	Limiter *middleware.AccountLimiter
	Logger  *slog.Logger
}

// New returns the API mux.
//
//	public:  auth, job types, plans, webhooks (signature checked in handler)
//	user:    Authenticate -> handler (RateLimit on job submission)
//	admin:   Authenticate -> RequireRole(admin) -> handler
func New(h Handlers, sec Security) http.Handler {
	mux := http.NewServeMux()

	authn := middleware.Authenticate(sec.Tokens, sec.Keys, sec.Logger)
	user := func(f http.HandlerFunc) http.Handler { return authn(f) }
	limited := func(f http.HandlerFunc) http.Handler { return authn(middleware.RateLimit(sec.Limiter)(f)) }
	adminOnly := func(f http.HandlerFunc) http.Handler {
		return authn(middleware.RequireRole(models.RoleAdmin)(f))
	}

	mux.HandleFunc("POST /v1/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /v1/auth/login", h.Auth.Login)
	mux.HandleFunc("GET /v1/job-types", h.JobTypes)
	mux.HandleFunc("GET /v1/plans", payments.ListPlans)
	mux.HandleFunc("POST /webhooks/mercadopago", h.Webhooks.MercadoPago)
	mux.HandleFunc("POST /webhooks/stripe", h.Webhooks.Stripe)

	mux.Handle("POST /v1/jobs", limited(h.Jobs.Create))
	mux.Handle("GET /v1/jobs", user(h.Jobs.List))
	mux.Handle("GET /v1/jobs/{id}", user(h.Jobs.Get))
	mux.Handle("POST /v1/jobs/{id}/cancel", user(h.Jobs.Cancel))
	mux.Handle("POST /v1/refunds", user(h.Refunds.Create))
	mux.Handle("GET /v1/account", user(h.Dashboard.GetAccount))
	mux.Handle("GET /v1/ledger", user(h.Dashboard.ListLedger))
	mux.Handle("GET /v1/api-keys", user(h.APIKeys.ListKeys))
	mux.Handle("POST /v1/api-keys", user(h.APIKeys.CreateKey))
	mux.Handle("DELETE /v1/api-keys/{id}", user(h.APIKeys.RevokeKey))

	mux.Handle("POST /v1/admin/jobs/{id}/reprocess", adminOnly(h.Admin.Reprocess))
	mux.Handle("POST /v1/admin/jobs/{id}/force-fail", adminOnly(h.Admin.ForceFail))
	mux.Handle("POST /v1/admin/jobs/{id}/refund", adminOnly(h.Admin.RefundJob))
	mux.Handle("GET /v1/admin/refunds", adminOnly(h.Refunds.List))
	mux.Handle("PUT /v1/admin/refunds/{id}", adminOnly(h.Refunds.Decide))
	mux.Handle("POST /v1/admin/accounts/{id}/adjustments", adminOnly(h.Admin.CreateAdjustment))
	mux.Handle("GET /v1/admin/adjustments", adminOnly(h.Admin.ListAdjustments))
	mux.Handle("PUT /v1/admin/adjustments/{id}", adminOnly(h.Admin.DecideAdjustment))
	mux.Handle("GET /v1/admin/audit/{entity}/{id}", adminOnly(h.Audit.Trail))

	return mux
}
