package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(Options{Username: "admin", Password: "s3cret", Secret: "signing-secret-for-tests"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func login(t *testing.T, a *Authenticator, user, pass string) (*http.Cookie, error) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	err := a.Login(rec, req, user, pass)
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		return nil, err
	}
	return cookies[0], err
}

func protectedStatus(a *Authenticator, cookie *http.Cookie) int {
	handler := a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/processes", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestNewRequiresSecrets(t *testing.T) {
	if _, err := New(Options{Username: "admin", Secret: "x"}); err == nil {
		t.Error("expected error without password")
	}
	if _, err := New(Options{Username: "admin", Password: "x"}); err == nil {
		t.Error("expected error without secret")
	}
}

func TestLoginSetsSession(t *testing.T) {
	a := newTestAuth(t)

	cookie, err := login(t, a, "admin", "s3cret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if cookie == nil || cookie.Name != DefaultCookieName || !cookie.HttpOnly {
		t.Fatalf("unexpected cookie: %+v", cookie)
	}
	if a.Store().Len() != 1 {
		t.Errorf("expected one session, got %d", a.Store().Len())
	}
	if code := protectedStatus(a, cookie); code != http.StatusOK {
		t.Errorf("expected 200 with session, got %d", code)
	}
}

func TestLoginRejectsWrongCredentials(t *testing.T) {
	a := newTestAuth(t)

	tests := []struct{ user, pass string }{
		{"admin", "wrong"},
		{"root", "s3cret"},
		{"", ""},
		{"admin", "s3cret "},
	}
	for _, tt := range tests {
		cookie, err := login(t, a, tt.user, tt.pass)
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("login(%q, %q) = %v, want ErrUnauthorized", tt.user, tt.pass, err)
		}
		if cookie != nil {
			t.Errorf("login(%q, %q) set a cookie", tt.user, tt.pass)
		}
	}
	if a.Store().Len() != 0 {
		t.Errorf("no session should exist, got %d", a.Store().Len())
	}
}

func TestRequireAuthRejects(t *testing.T) {
	a := newTestAuth(t)

	if code := protectedStatus(a, nil); code != http.StatusUnauthorized {
		t.Errorf("no cookie: expected 401, got %d", code)
	}

	forged := &http.Cookie{Name: DefaultCookieName, Value: "not-a-signed-value"}
	if code := protectedStatus(a, forged); code != http.StatusUnauthorized {
		t.Errorf("forged cookie: expected 401, got %d", code)
	}

	other, _ := New(Options{Username: "admin", Password: "s3cret", Secret: "another-secret"})
	cookie, _ := login(t, other, "admin", "s3cret")
	if code := protectedStatus(a, cookie); code != http.StatusUnauthorized {
		t.Errorf("cookie signed with another secret: expected 401, got %d", code)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	a := newTestAuth(t)
	cookie, err := login(t, a, "admin", "s3cret")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(cookie)
	if err := a.Logout(rec, req); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Errorf("expected cookie to be expired, got %+v", cleared)
	}
	if code := protectedStatus(a, cookie); code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", code)
	}

	// Second logout with the stale cookie has nothing to destroy.
	if err := a.Logout(httptest.NewRecorder(), req); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLoginRotatesSession(t *testing.T) {
	a := newTestAuth(t)
	first, _ := login(t, a, "admin", "s3cret")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.AddCookie(first)
	if err := a.Login(rec, req, "admin", "s3cret"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if a.Store().Len() != 1 {
		t.Errorf("old session should be replaced, got %d sessions", a.Store().Len())
	}
	if code := protectedStatus(a, first); code != http.StatusUnauthorized {
		t.Errorf("old cookie should be rejected, got %d", code)
	}
}

func TestStoreExpiry(t *testing.T) {
	store := NewStore(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	live := store.Create()
	if _, ok := store.Get(live.ID); !ok {
		t.Fatal("fresh session should be live")
	}

	now = now.Add(30 * time.Minute)
	second := store.Create()

	now = now.Add(45 * time.Minute)
	if _, ok := store.Get(live.ID); ok {
		t.Error("first session should have expired")
	}
	if n := store.Sweep(); n != 0 {
		t.Errorf("Get already dropped the expired session, sweep removed %d", n)
	}

	now = now.Add(time.Hour)
	if n := store.Sweep(); n != 1 {
		t.Errorf("expected sweep to drop 1 session, got %d", n)
	}
	if _, ok := store.Get(second.ID); ok {
		t.Error("second session should be gone")
	}
	if err := store.Destroy(second.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
