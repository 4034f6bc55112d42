package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/convertcredits/backend/internal/handlers"
	"github.com/convertcredits/backend/internal/ledger"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
	"github.com/convertcredits/backend/internal/policy"
)

// Request/response structs use snake_case JSON.

type CreateJobRequest struct {
	JobType string          `json:"job_type" validate:"required,max=64"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type CreateJobResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	NewBalance int64  `json:"new_balance"`
}

type JobResponse struct {
	ID          string     `json:"id"`
	JobType     string     `json:"job_type"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CostCharged int64      `json:"cost_charged"`
	ResultRef   *string    `json:"result_ref,omitempty"`
}

type CancelResponse struct {
	Job             JobResponse `json:"job"`
	RefundRequestID *string     `json:"refund_request_id,omitempty"`
	NewBalance      *int64      `json:"new_balance,omitempty"`
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

// Create handles POST /v1/jobs.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "unauthorized")
		return
	}
	var req CreateJobRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	adm, err := h.svc.Admit(r.Context(), p.AccountID, req.JobType, req.Payload)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, CreateJobResponse{
		JobID:      adm.Job.ID.String(),
		Status:     adm.Job.Status,
		NewBalance: adm.NewBalance,
	})
}

// Get handles GET /v1/jobs/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "unauthorized")
		return
	}
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	j, err := h.svc.Get(r.Context(), p.AccountID, id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, toResponse(j))
}

// List handles GET /v1/jobs?limit=N.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.List(r.Context(), p.AccountID, limit)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	out := make([]JobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toResponse(j))
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

// Cancel handles POST /v1/jobs/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, "unauthorized")
		return
	}
	id, ok := handlers.PathUUID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.Cancel(r.Context(), p.AccountID, id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	resp := CancelResponse{Job: toResponse(c.Job), NewBalance: c.NewBalance}
	if c.Refund != nil {
		rid := c.Refund.ID.String()
		resp.RefundRequestID = &rid
	}
	handlers.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		handlers.WriteErrorWith(w, http.StatusPaymentRequired, handlers.CodeInsufficientCredits, "insufficient credits",
			map[string]any{"required": insufficient.Required, "available": insufficient.Available})
	case errors.Is(err, policy.ErrUnknownJobType):
		handlers.WriteError(w, http.StatusBadRequest, handlers.CodeUnknownJobType, err.Error())
	case errors.Is(err, ErrInvalidPayload):
		handlers.WriteError(w, http.StatusUnprocessableEntity, handlers.CodeInvalidPayload, err.Error())
	case errors.Is(err, ErrJobNotFound):
		handlers.WriteError(w, http.StatusNotFound, handlers.CodeNotFound, "job not found")
	case errors.Is(err, ErrNotCancellable):
		handlers.WriteError(w, http.StatusConflict, handlers.CodeNotCancellable, "job has already started")
	default:
		h.log.Error("job request failed", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "internal error")
	}
}

func toResponse(j *models.Job) JobResponse {
	return JobResponse{
		ID:          j.ID.String(),
		JobType:     j.JobType,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		CostCharged: j.CostCharged,
		ResultRef:   j.ResultRef,
	}
}
