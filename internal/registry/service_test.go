package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

type memKeys struct {
	mu   sync.Mutex
	keys []*models.APIKey
}

func (m *memKeys) Create(_ context.Context, k *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.keys = append(m.keys, &cp)
	return nil
}

func (m *memKeys) ListByAccountID(_ context.Context, accountID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.AccountID == accountID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memKeys) Deactivate(_ context.Context, id, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ID == id && k.AccountID == accountID && k.IsActive {
			k.IsActive = false
			return nil
		}
	}
	return repository.ErrNotFound
}

func TestIssue_StoresOnlyTheHash(t *testing.T) {
	store := &memKeys{}
	svc := NewService(store, 0)
	account := uuid.New()

	issued, err := svc.Issue(context.Background(), account, " ci runner ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(issued.RawKey, KeyPrefix))
	assert.Equal(t, "ci runner", issued.Key.Label)
	assert.Equal(t, issued.RawKey[:11], issued.Key.KeyPrefix)

	require.Len(t, store.keys, 1)
	assert.Equal(t, middleware.HashKey(issued.RawKey), store.keys[0].KeyHash)
	assert.NotContains(t, store.keys[0].KeyHash, issued.RawKey)
}

func TestIssue_Limits(t *testing.T) {
	svc := NewService(&memKeys{}, 2)
	account := uuid.New()
	ctx := context.Background()

	_, err := svc.Issue(ctx, account, "<script>")
	assert.ErrorIs(t, err, ErrInvalidLabel)

	first, err := svc.Issue(ctx, account, "a")
	require.NoError(t, err)
	_, err = svc.Issue(ctx, account, "b")
	require.NoError(t, err)
	_, err = svc.Issue(ctx, account, "c")
	assert.ErrorIs(t, err, ErrTooManyKeys)

	require.NoError(t, svc.Revoke(ctx, account, first.Key.ID))
	_, err = svc.Issue(ctx, account, "c")
	assert.NoError(t, err, "revoked keys do not count")

	_, err = svc.Issue(ctx, uuid.New(), "other account")
	assert.NoError(t, err)
}

func TestRevoke_OnlyOwnActiveKeys(t *testing.T) {
	svc := NewService(&memKeys{}, 0)
	owner := uuid.New()
	issued, err := svc.Issue(context.Background(), owner, "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Revoke(context.Background(), uuid.New(), issued.Key.ID), ErrKeyNotFound)
	require.NoError(t, svc.Revoke(context.Background(), owner, issued.Key.ID))
	assert.ErrorIs(t, svc.Revoke(context.Background(), owner, issued.Key.ID), ErrKeyNotFound)
}

func TestHandler_KeyLifecycle(t *testing.T) {
	h := NewHandler(NewService(&memKeys{}, 0), nil)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/api-keys", h.CreateKey)
	mux.HandleFunc("GET /v1/api-keys", h.ListKeys)
	mux.HandleFunc("DELETE /v1/api-keys/{id}", h.RevokeKey)
	p := middleware.Principal{AccountID: uuid.New(), Role: models.RoleUser}

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(middleware.WithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/v1/api-keys", `{"label":"deploy"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"raw_key":"cc_`)

	rec = do(http.MethodGet, "/v1/api-keys", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "key_hash")

	rec = do(http.MethodDelete, "/v1/api-keys/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(http.MethodDelete, "/v1/api-keys/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
