package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertcredits/backend/internal/admin"
	"github.com/convertcredits/backend/internal/audit"
	"github.com/convertcredits/backend/internal/auth"
	"github.com/convertcredits/backend/internal/dashboard"
	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/jobs"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/payments"
	"github.com/convertcredits/backend/internal/policy"
	"github.com/convertcredits/backend/internal/refunds"
	"github.com/convertcredits/backend/internal/registry"
)

// tokens maps bearer strings to identities.
type tokens map[string]auth.Identity

func (t tokens) ValidateToken(_ context.Context, token string) (auth.Identity, error) {
	id, ok := t[token]
	if !ok {
		return auth.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

func newMux(t *testing.T, limiter *middleware.AccountLimiter) http.Handler {
	t.Helper()
	table, err := policy.NewTable(policy.Defaults()...)
	require.NoError(t, err)
	return New(Handlers{
		Auth:      auth.NewHandler(nil, nil),
		Jobs:      jobs.NewHandler(nil, nil),
		Refunds:   refunds.NewHandler(nil, nil),
		Admin:     admin.NewHandler(nil, nil),
		Audit:     audit.NewHandler(nil, nil),
		Dashboard: dashboard.NewHandler(nil, nil, nil),
		APIKeys:   registry.NewHandler(nil, nil),
		Webhooks:  payments.NewWebhookHandler(nil, nil, payments.WebhookSecrets{}, nil, nil),
		JobTypes:  handlers.JobTypes(table),
	}, Security{
		Tokens: tokens{
			"user-token":  {AccountID: uuid.New(), Email: "u@example.com", Role: models.RoleUser},
			"admin-token": {AccountID: uuid.New(), Email: "a@example.com", Role: models.RoleAdmin},
		},
		Limiter: limiter,
	})
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	mux := newMux(t, nil)

	rec := do(mux, http.MethodGet, "/v1/job-types", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "job_type")

	rec = do(mux, http.MethodGet, "/v1/plans", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserRoutesRequireAuth(t *testing.T) {
	mux := newMux(t, nil)
	paths := []struct{ method, path string }{
		{http.MethodPost, "/v1/jobs"},
		{http.MethodGet, "/v1/jobs"},
		{http.MethodGet, "/v1/jobs/" + uuid.NewString()},
		{http.MethodPost, "/v1/refunds"},
		{http.MethodGet, "/v1/account"},
		{http.MethodGet, "/v1/ledger"},
		{http.MethodGet, "/v1/api-keys"},
	}
	for _, p := range paths {
		rec := do(mux, p.method, p.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, p.path)
		rec = do(mux, p.method, p.path, "forged", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, p.path)
	}
}

func TestAdminRoutesRejectUsers(t *testing.T) {
	mux := newMux(t, nil)
	id := uuid.NewString()
	paths := []struct{ method, path string }{
		{http.MethodPost, "/v1/admin/jobs/" + id + "/reprocess"},
		{http.MethodPost, "/v1/admin/jobs/" + id + "/force-fail"},
		{http.MethodPost, "/v1/admin/jobs/" + id + "/refund"},
		{http.MethodGet, "/v1/admin/refunds"},
		{http.MethodPut, "/v1/admin/refunds/" + id},
		{http.MethodPost, "/v1/admin/accounts/" + id + "/adjustments"},
		{http.MethodGet, "/v1/admin/adjustments"},
		{http.MethodPut, "/v1/admin/adjustments/" + id},
		{http.MethodGet, "/v1/admin/audit/job/" + id},
	}
	for _, p := range paths {
		assert.Equal(t, http.StatusUnauthorized, do(mux, p.method, p.path, "", "").Code, p.path)
		assert.Equal(t, http.StatusForbidden, do(mux, p.method, p.path, "user-token", "").Code, p.path)
	}

	// admins pass the role check and reach request validation.
	rec := do(mux, http.MethodPost, "/v1/admin/jobs/not-a-uuid/reprocess", "admin-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobSubmissionIsRateLimited(t *testing.T) {
	mux := newMux(t, middleware.NewAccountLimiter(1, 1))

	rec := do(mux, http.MethodPost, "/v1/jobs", "user-token", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(mux, http.MethodPost, "/v1/jobs", "user-token", "{")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reads are not throttled.
	rec = do(mux, http.MethodGet, "/v1/ledger?limit=oops", "user-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownMethod(t *testing.T) {
	mux := newMux(t, nil)
	rec := do(mux, http.MethodDelete, "/v1/job-types", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
