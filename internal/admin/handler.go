package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/refunds"
)

// Admin error codes.
const (
	CodeJobNotFailed         = "JOB_NOT_FAILED"
	CodeJobNotActive         = "JOB_NOT_ACTIVE"
	CodeJobRefunded          = "JOB_REFUNDED"
	CodeAdjustmentNotFound   = "ADJUSTMENT_NOT_FOUND"
	CodeAdjustmentNotPending = "ADJUSTMENT_NOT_PENDING"
	CodeSameApprover         = "SAME_APPROVER"
	CodeInvalidAdjustment    = "INVALID_ADJUSTMENT"
)

type ForceFailRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
	Refund bool   `json:"refund"`
}

type RefundJobRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type AdjustmentRequest struct {
	Amount int64  `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,max=500"`
}

type AdjustmentDecision struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Reprocess handles POST /v1/admin/jobs/{id}/reprocess.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.svc.Reprocess(r.Context(), p.Actor(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, job)
}

// ForceFail handles POST /v1/admin/jobs/{id}/force-fail.
func (h *Handler) ForceFail(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req ForceFailRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.ForceFail(r.Context(), p.Actor(), id, req.Reason, req.Refund)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

// RefundJob handles POST /v1/admin/jobs/{id}/refund.
func (h *Handler) RefundJob(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req RefundJobRequest
	if r.ContentLength != 0 && !handlers.DecodeJSON(w, r, &req) {
		return
	}
	refund, balance, err := h.svc.RefundJob(r.Context(), p.Actor(), id, req.Notes)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]any{"refund": refund, "new_balance": balance})
}

// CreateAdjustment handles POST /v1/admin/accounts/{id}/adjustments.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	accountID, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req AdjustmentRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.RequestAdjustment(r.Context(), p.Actor(), accountID, req.Amount, req.Reason)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if out.NewBalance == nil {
		status = http.StatusAccepted
	}
	handlers.WriteJSON(w, status, out)
}

// DecideAdjustment handles PUT /v1/admin/adjustments/{id}.
func (h *Handler) DecideAdjustment(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req AdjustmentDecision
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.DecideAdjustment(r.Context(), p.Actor(), id, req.Action == "approve")
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

// ListAdjustments handles GET /v1/admin/adjustments.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.PendingAdjustments(r.Context())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientCreditsError
	switch {
	case errors.Is(err, ErrJobNotFound):
		handlers.WriteError(w, http.StatusNotFound, handlers.CodeNotFound, err.Error())
	case errors.Is(err, ErrAdjustmentNotFound):
		handlers.WriteError(w, http.StatusNotFound, CodeAdjustmentNotFound, err.Error())
	case errors.Is(err, ErrJobNotFailed):
		handlers.WriteError(w, http.StatusConflict, CodeJobNotFailed, err.Error())
	case errors.Is(err, ErrJobNotActive):
		handlers.WriteError(w, http.StatusConflict, CodeJobNotActive, err.Error())
	case errors.Is(err, ErrJobRefunded):
		handlers.WriteError(w, http.StatusConflict, CodeJobRefunded, err.Error())
	case errors.Is(err, ErrAdjustmentNotPending):
		handlers.WriteError(w, http.StatusConflict, CodeAdjustmentNotPending, err.Error())
	case errors.Is(err, ErrSameApprover):
		handlers.WriteError(w, http.StatusForbidden, CodeSameApprover, err.Error())
	case errors.Is(err, ErrInvalidAdjustment):
		handlers.WriteError(w, http.StatusBadRequest, CodeInvalidAdjustment, err.Error())
	case errors.As(err, &insufficient):
		handlers.WriteErrorWith(w, http.StatusUnprocessableEntity, handlers.CodeInsufficientCredits, "adjustment exceeds balance",
			map[string]any{"required": insufficient.Required, "available": insufficient.Available})
	default:
		if status, code := refunds.ErrorStatus(err); status != http.StatusInternalServerError {
			handlers.WriteError(w, status, code, err.Error())
			return
		}
		h.log.Error("admin action failed", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
	}
}
