package refunds

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
)

// Refund error codes.
const (
	CodeJobNotFound            = "JOB_NOT_FOUND"
	CodeJobNotFailed           = "JOB_NOT_FAILED"
	CodeAlreadyRefunded        = "ALREADY_REFUNDED"
	CodeRefundAlreadyRequested = "REFUND_ALREADY_REQUESTED"
	CodeRefundWindowExpired    = "REFUND_WINDOW_EXPIRED"
	CodeNoChargeFound          = "NO_CHARGE_FOUND"
	CodeInvalidAmount          = "INVALID_AMOUNT"
	CodeRequestNotFound        = "REQUEST_NOT_FOUND"
	CodeRequestNotPending      = "REQUEST_NOT_PENDING"
)

type CreateRefundRequest struct {
	JobID  uuid.UUID `json:"job_id" validate:"required"`
	Reason string    `json:"reason" validate:"required,max=500"`
}

type RefundResponse struct {
	RefundRequestID string              `json:"refund_request_id"`
	Status          models.RefundStatus `json:"status"`
	Amount          int64               `json:"amount"`
	NewBalance      *int64              `json:"new_balance,omitempty"`
}

type DecisionRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Notes  string `json:"notes" validate:"max=1000"`
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

// Create handles POST /v1/refunds.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "unauthorized")
		return
	}
	var req CreateRefundRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.RequestRefund(r.Context(), p.AccountID, req.JobID, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	status := http.StatusCreated
	if out.Request.Status == models.RefundPending {
		status = http.StatusAccepted
	}
	handlers.WriteJSON(w, status, RefundResponse{
		RefundRequestID: out.Request.ID.String(),
		Status:          out.Request.Status,
		Amount:          out.Request.Amount,
		NewBalance:      out.NewBalance,
	})
}

// Decide handles PUT /v1/admin/refunds/{id}.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFrom(r.Context())
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req DecisionRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	decided, err := h.svc.Decide(r.Context(), id, req.Action == "approve", p.Actor(), req.Notes)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, decided)
}

// List handles GET /v1/admin/refunds?status=PENDING.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	status := models.RefundStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "":
		status = models.RefundPending
	case models.RefundPending, models.RefundApproved, models.RefundAutoApproved, models.RefundRejected:
	default:
		handlers.WriteError(w, http.StatusBadRequest, handlers.CodeInvalidRequest, "invalid status")
		return
	}
	list, err := h.svc.List(r.Context(), status, 100)
	if err != nil {
		h.log.Error("list refund requests failed", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "list refund requests failed")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status, code := ErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("refund operation failed", "error", err)
		handlers.WriteError(w, status, code, "refund failed")
		return
	}
	handlers.WriteError(w, status, code, err.Error())
}

// ErrorStatus maps a refund business-rule error to its HTTP status and code.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound, CodeJobNotFound
	case errors.Is(err, ErrRequestNotFound):
		return http.StatusNotFound, CodeRequestNotFound
	case errors.Is(err, ErrJobNotFailed):
		return http.StatusConflict, CodeJobNotFailed
	case errors.Is(err, ErrAlreadyRefunded):
		return http.StatusConflict, CodeAlreadyRefunded
	case errors.Is(err, ErrRefundAlreadyRequested):
		return http.StatusConflict, CodeRefundAlreadyRequested
	case errors.Is(err, ErrRequestNotPending):
		return http.StatusConflict, CodeRequestNotPending
	case errors.Is(err, ErrRefundWindowExpired):
		return http.StatusUnprocessableEntity, CodeRefundWindowExpired
	case errors.Is(err, ErrNoChargeFound):
		return http.StatusUnprocessableEntity, CodeNoChargeFound
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusUnprocessableEntity, CodeInvalidAmount
	}
	return http.StatusInternalServerError, handlers.CodeInternal
}
