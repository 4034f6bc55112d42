package registry

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
)

type CreateKeyRequest struct {
	Label string `json:"label" validate:"max=64"`
}

type CreateKeyResponse struct {
	ID        string `json:"id"`
	KeyPrefix string `json:"key_prefix"`
	Label     string `json:"label"`
	RawKey    string `json:"raw_key"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// CreateKey handles POST /v1/api-keys.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	var req CreateKeyRequest
	if r.ContentLength != 0 && !handlers.DecodeJSON(w, r, &req) {
		return
	}
	issued, err := h.svc.Issue(r.Context(), p.AccountID, req.Label)
	switch {
	case errors.Is(err, ErrInvalidLabel):
		handlers.WriteError(w, http.StatusBadRequest, handlers.CodeInvalidRequest, err.Error())
		return
	case errors.Is(err, ErrTooManyKeys):
		handlers.WriteError(w, http.StatusConflict, handlers.CodeConflict, err.Error())
		return
	case err != nil:
		h.log.Error("create api key failed", "account_id", p.AccountID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
		return
	}
	h.log.Info("api key issued", "account_id", p.AccountID, "key_id", issued.Key.ID)
	handlers.WriteJSON(w, http.StatusCreated, CreateKeyResponse{
		ID:        issued.Key.ID.String(),
		KeyPrefix: issued.Key.KeyPrefix,
		Label:     issued.Key.Label,
		RawKey:    issued.RawKey,
	})
}

// ListKeys handles GET /v1/api-keys.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	keys, err := h.svc.List(r.Context(), p.AccountID)
	if err != nil {
		h.log.Error("list api keys failed", "account_id", p.AccountID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	handlers.WriteJSON(w, http.StatusOK, keys)
}

// RevokeKey handles DELETE /v1/api-keys/{id}.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Revoke(r.Context(), p.AccountID, id); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			handlers.WriteError(w, http.StatusNotFound, handlers.CodeNotFound, err.Error())
			return
		}
		h.log.Error("revoke api key failed", "key_id", id, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
		return
	}
	h.log.Info("api key revoked", "account_id", p.AccountID, "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}
