package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"procpanel/internal/auth"
)

type AuthHandler struct {
	auth *auth.Authenticator
}

func NewAuthHandler(a *auth.Authenticator) *AuthHandler {
	return &AuthHandler{auth: a}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionResponse struct {
	OK            bool      `json:"ok"`
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Login accepts a JSON body or a urlencoded form.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.auth.Login(w, r, req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			slog.Warn("auth: login failed", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		slog.Error("auth: login error", "error", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	slog.Info("auth: login", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, MessageResponse{OK: true, Message: "Logged in"})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(w, r); err != nil {
		slog.Error("auth: logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Logout failed")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{OK: true, Message: "Logged out"})
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		OK:            true,
		Authenticated: session.Authenticated,
		ExpiresAt:     session.ExpiresAt,
	})
}
