// Package registry issues and revokes the API keys script clients use in
// place of a bearer token.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/repository"
)

var (
	ErrKeyNotFound  = errors.New("api key not found")
	ErrTooManyKeys  = errors.New("active api key limit reached")
	ErrInvalidLabel = errors.New("label may only contain letters, digits, spaces, dots, dashes and underscores")
)

const (
	KeyPrefix            = "cc_"
	DefaultMaxActiveKeys = 10
)

type Service interface {
	Issue(ctx context.Context, accountID uuid.UUID, label string) (*IssuedKey, error)
	List(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error)
	Revoke(ctx context.Context, accountID, keyID uuid.UUID) error
}

// IssuedKey carries the raw key. It is shown once and never stored.
type IssuedKey struct {
	Key    *models.APIKey
	RawKey string
}

type service struct {
	store     KeyStore
	maxActive int
}

func NewService(store KeyStore, maxActive int) *service {
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveKeys
	}
	return &service{store: store, maxActive: maxActive}
}

var _ Service = (*service)(nil)

var labelPattern = regexp.MustCompile(`^[\p{L}\p{N} ._-]{0,64}$`)

func (s *service) Issue(ctx context.Context, accountID uuid.UUID, label string) (*IssuedKey, error) {
	label = strings.TrimSpace(label)
	if !labelPattern.MatchString(label) {
		return nil, ErrInvalidLabel
	}
	existing, err := s.store.ListByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	active := 0
	for _, k := range existing {
		if k.IsActive {
			active++
		}
	}
	if active >= s.maxActive {
		return nil, ErrTooManyKeys
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	rawKey := KeyPrefix + hex.EncodeToString(raw)
	k := &models.APIKey{
		ID:        uuid.New(),
		AccountID: accountID,
		KeyHash:   middleware.HashKey(rawKey),
		KeyPrefix: rawKey[:len(KeyPrefix)+8],
		Label:     label,
		IsActive:  true,
	}
	if err := s.store.Create(ctx, k); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return &IssuedKey{Key: k, RawKey: rawKey}, nil
}

func (s *service) List(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error) {
	return s.store.ListByAccountID(ctx, accountID)
}

func (s *service) Revoke(ctx context.Context, accountID, keyID uuid.UUID) error {
	err := s.store.Deactivate(ctx, keyID, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}
