package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/models"
)

// KeyStore persists API keys. *repository.APIKeyRepo satisfies it.
type KeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.APIKey, error)
	Deactivate(ctx context.Context, id, accountID uuid.UUID) error
}
