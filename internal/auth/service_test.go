package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/ledger/ledgertest"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
	"github.com/convertcredits/backend/internal/repository/txtest"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (m *memUsers) CreateTx(_ context.Context, _ pgx.Tx, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	}
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.Email] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func newTestService(t *testing.T) (*service, *ledgertest.Store, *txtest.DB) {
	t.Helper()
	store := ledgertest.New()
	db := &txtest.DB{}
	svc, err := NewService(db, &memUsers{users: map[string]*models.User{}}, ledger.NewService(store, store), Config{Secret: []byte("test-secret")})
	require.NoError(t, err)
	return svc, store, db
}

func TestRegister_OpensAccountWithWelcomeBonus(t *testing.T) {
	svc, store, _ := newTestService(t)

	u, balance, err := svc.Register(context.Background(), " Ana@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Equal(t, ledger.WelcomeBonus, balance)
	assert.Equal(t, ledger.WelcomeBonus, store.Balance(u.ID))
	assert.Len(t, store.EntriesOf(models.LedgerBonus), 1)
}

func TestRegister_DuplicateEmailGrantsNothing(t *testing.T) {
	svc, store, db := newTestService(t)
	_, _, err := svc.Register(context.Background(), "ana@example.com", "correct horse")
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), "ana@example.com", "another pass")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.Len(t, store.EntriesOf(models.LedgerBonus), 1)
	_, commits, rollbacks := db.Counts()
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
}

func TestLoginAndValidateToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	u, _, err := svc.Register(context.Background(), "ana@example.com", "correct horse")
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(context.Background(), "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, err := svc.Login(context.Background(), "ana@example.com", "correct horse")
	require.NoError(t, err)
	id, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{AccountID: u.ID, Email: u.Email, Role: models.RoleUser}, id)

	_, err = svc.ValidateToken(context.Background(), token+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = svc.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := NewService(&txtest.DB{}, &memUsers{}, nil, Config{})
	assert.Error(t, err)
}

func TestHandler_RegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(svc, nil)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"email":"ana@example.com","password":"correct horse"}`, http.StatusCreated},
		{"duplicate", `{"email":"ana@example.com","password":"correct horse"}`, http.StatusConflict},
		{"bad email", `{"email":"ana","password":"correct horse"}`, http.StatusBadRequest},
		{"short password", `{"email":"bo@example.com","password":"short"}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Register(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/register", strings.NewReader(tc.body)))
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}
