package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/convertcredits/backend/internal/handlers"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Balance int64  `json:"balance"`
}

type LoginResponse struct {
	Token string `json:"token"`
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

// Register handles POST /v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	u, balance, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			handlers.WriteError(w, http.StatusConflict, handlers.CodeConflict, err.Error())
			return
		}
		h.log.Error("register failed", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "registration failed")
		return
	}
	h.log.Info("user registered", "account_id", u.ID)
	handlers.WriteJSON(w, http.StatusCreated, RegisterResponse{ID: u.ID.String(), Email: u.Email, Role: u.Role, Balance: balance})
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !handlers.DecodeJSON(w, r, &req) {
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			handlers.WriteError(w, http.StatusUnauthorized, handlers.CodeUnauthorized, err.Error())
			return
		}
		h.log.Error("login failed", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, handlers.CodeInternal, "login failed")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, LoginResponse{Token: token})
}
