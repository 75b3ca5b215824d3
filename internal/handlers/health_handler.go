package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"procpanel/internal/gateway"
)

type HealthResponse struct {
	Status     string `json:"status"`
	Supervisor string `json:"supervisor,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// ReadyCheck reports 503 until the supervisor connection is up.
func ReadyCheck(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := gw.State()
		resp := HealthResponse{
			Status:     "ready",
			Supervisor: state.String(),
			Timestamp:  time.Now().Format(time.RFC3339),
		}
		status := http.StatusOK
		if state != gateway.StateReady {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}

// RequireReady rejects requests with 503 while the supervisor is not
// connected.
func RequireReady(gw *gateway.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gw.Ready() {
				writeError(w, http.StatusServiceUnavailable, "Supervisor not ready")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
