package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/auth"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubAPIKeyRepo struct {
	result   *repository.APIKeyWithUser
	err      error
	lastHash string
}

func (s *stubAPIKeyRepo) FindByKeyHash(_ context.Context, hash string) (*repository.APIKeyWithUser, error) {
	s.lastHash = hash
	return s.result, s.err
}

type stubTokens struct {
	id  auth.Identity
	err error
}

func (s stubTokens) ValidateToken(context.Context, string) (auth.Identity, error) {
	return s.id, s.err
}

// okHandler writes 200 and the principal's account id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p, ok := PrincipalFrom(r.Context()); ok {
		w.Write([]byte(p.AccountID.String()))
	}
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAuthenticate_ValidAPIKey(t *testing.T) {
	user := models.User{ID: uuid.New(), Email: "test@example.com", Role: models.RoleUser}
	repo := &stubAPIKeyRepo{
		result: &repository.APIKeyWithUser{
			APIKey: models.APIKey{ID: uuid.New(), AccountID: user.ID, IsActive: true},
			User:   user,
		},
	}
	mw := Authenticate(stubTokens{err: errors.New("unused")}, repo, nil)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(APIKeyHeader, "valid-test-key")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != user.ID.String() {
		t.Errorf("expected account id %q in body, got %q", user.ID, body)
	}
	if repo.lastHash != HashKey("valid-test-key") {
		t.Error("lookup should use the SHA-256 hash, not the raw key")
	}
}

func TestAuthenticate_ValidToken(t *testing.T) {
	id := uuid.New()
	mw := Authenticate(stubTokens{id: auth.Identity{AccountID: id, Email: "a@example.com", Role: models.RoleUser}}, nil, nil)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != id.String() {
		t.Fatalf("expected 200 with id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	mw := Authenticate(stubTokens{}, &stubAPIKeyRepo{}, nil)(okHandler)

	cases := []struct {
		name   string
		header string
	}{
		{"no header at all", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	repo := &stubAPIKeyRepo{err: repository.ErrNotFound}
	mw := Authenticate(stubTokens{err: errors.New("expired")}, repo, nil)(okHandler)

	for _, set := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set(APIKeyHeader, "revoked") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer expired.jwt") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		set(req)
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d: %s", rec.Code, rec.Body.String())
		}
	}
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(models.RoleAdmin)(okHandler)

	cases := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"no principal", context.Background(), http.StatusUnauthorized},
		{"user", WithPrincipal(context.Background(), Principal{AccountID: uuid.New(), Role: models.RoleUser}), http.StatusForbidden},
		{"admin", WithPrincipal(context.Background(), Principal{AccountID: uuid.New(), Role: models.RoleAdmin}), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tc.ctx))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
