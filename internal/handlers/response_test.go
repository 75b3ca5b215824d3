package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"procpanel/internal/browser"
	"procpanel/internal/gateway"
	"procpanel/internal/logs"
	"procpanel/internal/models"
	"procpanel/internal/sandbox"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: name required", gateway.ErrValidation), http.StatusBadRequest},
		{"log kind", logs.ErrInvalidKind, http.StatusBadRequest},
		{"sandbox", fmt.Errorf("%w: %v", gateway.ErrSandbox, &sandbox.RejectionError{Input: "..", Reason: "parent"}), http.StatusForbidden},
		{"browse denied", fmt.Errorf("%w: x", browser.ErrAccessDenied), http.StatusForbidden},
		{"not found", fmt.Errorf("%w: 7", models.ErrProcessNotFound), http.StatusNotFound},
		{"not ready", gateway.ErrNotReady, http.StatusServiceUnavailable},
		{"other", errors.New("socket closed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRequireReadyBeforeConnect(t *testing.T) {
	sb, err := sandbox.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	called := false
	handler := RequireReady(gateway.New(sb, gateway.Options{}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/processes", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if called {
		t.Error("handler should not run before the supervisor is ready")
	}
}
