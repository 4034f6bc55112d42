// Package audit writes the audit trail for admin and settlement actions.
// Records are written in the caller's transaction and published to the
// event bus only after that transaction commits.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/convertcredits/backend/internal/events"
	"github.com/convertcredits/backend/internal/models"
)

// Entity types.
const (
	EntityJob        = "job"
	EntityRefund     = "refund_request"
	EntityAccount    = "account"
	EntityAdjustment = "adjustment_request"
)

// Store persists audit rows. *repository.AuditRepo satisfies it.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, rec *models.AuditRecord) error
}

// Entry is an audit record before its snapshots are encoded.
type Entry struct {
	Actor      models.Actor
	Action     string
	EntityType string
	EntityID   uuid.UUID
	Before     any
	After      any
	Metadata   any
	Severity   models.Severity
}

type Recorder struct {
	Store     Store
	Publisher events.Publisher
	Logger    *slog.Logger
}

func NewRecorder(store Store, pub events.Publisher, logger *slog.Logger) *Recorder {
	if pub == nil {
		pub = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Store: store, Publisher: pub, Logger: logger}
}

// RecordTx writes the entry in tx. The returned record is handed to Publish
// once the transaction has committed.
func (r *Recorder) RecordTx(ctx context.Context, tx pgx.Tx, e Entry) (*models.AuditRecord, error) {
	if e.Severity == "" {
		e.Severity = models.SeverityInfo
	}
	rec := &models.AuditRecord{
		ID:         uuid.New(),
		Actor:      e.Actor,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Severity:   e.Severity,
	}
	var err error
	if rec.Before, err = marshal(e.Before); err != nil {
		return nil, fmt.Errorf("encode before snapshot: %w", err)
	}
	if rec.After, err = marshal(e.After); err != nil {
		return nil, fmt.Errorf("encode after snapshot: %w", err)
	}
	if rec.Metadata, err = marshal(e.Metadata); err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := r.Store.CreateTx(ctx, tx, rec); err != nil {
		return nil, fmt.Errorf("write audit record: %w", err)
	}
	return rec, nil
}

// Publish emits committed records. Failures are logged, not returned.
func (r *Recorder) Publish(ctx context.Context, recs ...*models.AuditRecord) {
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		if err := r.Publisher.Publish(ctx, events.SubjectAuditPrefix+rec.Action, rec); err != nil {
			r.Logger.Warn("audit event publish failed", "action", rec.Action, "entity_id", rec.EntityID, "error", err)
		}
	}
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
