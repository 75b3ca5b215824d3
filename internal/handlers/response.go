package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"procpanel/internal/browser"
	"procpanel/internal/gateway"
	"procpanel/internal/logs"
	"procpanel/internal/models"
	"procpanel/internal/rpc"
)

type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type MessageResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// ResultResponse is the body of the control operations: ok with an error
// message when the supervisor refused.
type ResultResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("http: encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{OK: false, Error: message})
}

// writeFailure maps err to its status code.
func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("http: request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrValidation), errors.Is(err, logs.ErrInvalidKind), errors.Is(err, rpc.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrSandbox), errors.Is(err, browser.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, models.ErrProcessNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrNotReady):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// NotFound answers unknown API routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}
