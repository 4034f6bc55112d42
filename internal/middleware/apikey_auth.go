package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/auth"
	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

type contextKey string

const ctxPrincipalKey contextKey = "principal"

// APIKeyHeader carries a raw API key for script clients.
const APIKeyHeader = "X-API-Key"

// Principal is the authenticated caller. AccountID is also the credit account.
type Principal struct {
	AccountID uuid.UUID
	Email     string
	Role      string
}

func (p Principal) IsAdmin() bool { return p.Role == models.RoleAdmin }

// Actor converts the principal for audit records.
func (p Principal) Actor() models.Actor {
	return models.Actor{ID: p.AccountID, Email: p.Email}
}

// APIKeyRepo is the interface used by auth middleware to resolve API keys.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*repository.APIKeyWithUser, error)
}

// TokenValidator resolves a bearer JWT. auth.Service satisfies it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (auth.Identity, error)
}

// Authenticate accepts either a bearer JWT or an X-API-Key header. API keys
// are hashed with SHA-256 and looked up in api_keys.
func Authenticate(tokens TokenValidator, keys APIKeyRepo, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p Principal
			switch {
			case r.Header.Get(APIKeyHeader) != "" && keys != nil:
				result, err := keys.FindByKeyHash(r.Context(), HashKey(r.Header.Get(APIKeyHeader)))
				if err != nil {
					handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "invalid api key")
					return
				}
				p = Principal{AccountID: result.User.ID, Email: result.User.Email, Role: result.User.Role}
			case extractBearer(r) != "":
				id, err := tokens.ValidateToken(r.Context(), extractBearer(r))
				if err != nil {
					logger.Debug("token rejected", "error", err)
					handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "invalid token")
					return
				}
				p = Principal{AccountID: id.AccountID, Email: id.Email, Role: id.Role}
			default:
				handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "missing or malformed Authorization header")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole rejects principals without the given role. Use after Authenticate.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "unauthorized")
				return
			}
			if p.Role != role {
				handlers.WriteError(w, http.StatusForbidden, handlers.CodeForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFrom returns the authenticated caller.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipalKey).(Principal)
	return p, ok
}

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey is the stored form of an API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
