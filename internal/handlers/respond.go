// Package handlers holds the JSON helpers shared by every HTTP handler.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator"
	"github.com/google/uuid"
)

// Stable error codes carried in every error body.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeUnknownJobType      = "UNKNOWN_JOB_TYPE"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
	CodeNotCancellable      = "NOT_CANCELLABLE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// ErrorBody is the shape of every error response. WriteErrorWith adds
// code-specific fields such as required/available credits.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg, Code: code})
}

// WriteErrorWith merges extra fields into the error body.
func WriteErrorWith(w http.ResponseWriter, status int, code, msg string, extra map[string]any) {
	body := map[string]any{"error": msg, "code": code}
	for k, v := range extra {
		body[k] = v
	}
	WriteJSON(w, status, body)
}

// DecodeJSON reads a bounded JSON body into dst and runs its validate tags.
// It writes the 400 itself and returns false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			WriteError(w, http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("field %s failed %s", verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return false
	}
	return true
}

// PathUUID parses a {name} path segment; it writes the 400 itself on failure.
func PathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
