package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convertcredits/backend/internal/models"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// CreateTx writes the audit row in the same transaction as the action it describes.
func (r *AuditRepo) CreateTx(ctx context.Context, tx pgx.Tx, rec *models.AuditRecord) error {
	return tx.QueryRow(ctx, `
		INSERT INTO audit_log (id, actor_id, actor_email, action, entity_type, entity_id, before, after, metadata, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, rec.ID, rec.Actor.ID, rec.Actor.Email, rec.Action, rec.EntityType, rec.EntityID,
		nullableJSON(rec.Before), nullableJSON(rec.After), nullableJSON(rec.Metadata), rec.Severity).Scan(&rec.CreatedAt)
}

func (r *AuditRepo) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.AuditRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, actor_email, action, entity_type, entity_id, before, after, metadata, severity, created_at
		FROM audit_log WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at
	`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Actor.ID, &rec.Actor.Email, &rec.Action, &rec.EntityType, &rec.EntityID,
			&rec.Before, &rec.After, &rec.Metadata, &rec.Severity, &rec.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &rec)
	}
	return list, rows.Err()
}
