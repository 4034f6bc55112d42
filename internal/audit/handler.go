package audit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/models"
)

var entityTypes = map[string]bool{
	EntityJob:        true,
	EntityRefund:     true,
	EntityAccount:    true,
	EntityAdjustment: true,
}

// Reader lists the trail of one entity, oldest first. *repository.AuditRepo satisfies it.
type Reader interface {
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*models.AuditRecord, error)
}

type Handler struct {
	reader Reader
	log    *slog.Logger
}

func NewHandler(reader Reader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{reader: reader, log: log}
}

// Trail handles GET /v1/admin/audit/{entity}/{id}.
func (h *Handler) Trail(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	if !entityTypes[entity] {
		handlers.WriteError(w, http.StatusBadRequest, handlers.CodeInvalidRequest, "unknown entity type")
		return
	}
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	list, err := h.reader.ListByEntity(r.Context(), entity, id)
	if err != nil {
		h.log.Error("list audit trail failed", "entity_type", entity, "entity_id", id, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}
