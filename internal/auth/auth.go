// Package auth implements single-administrator login backed by signed
// session cookies.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const DefaultCookieName = "procpanel_session"

var ErrUnauthorized = errors.New("invalid credentials")

type Options struct {
	Username     string
	Password     string
	Secret       string
	TTL          time.Duration
	CookieName   string
	SecureCookie bool
}

// Authenticator checks admin credentials and manages the session cookie.
type Authenticator struct {
	username [sha256.Size]byte
	password [sha256.Size]byte

	store      *Store
	codec      *securecookie.SecureCookie
	cookieName string
	secure     bool
	ttl        time.Duration
}

func New(opts Options) (*Authenticator, error) {
	if opts.Password == "" {
		return nil, errors.New("admin password is required")
	}
	if opts.Secret == "" {
		return nil, errors.New("session secret is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}

	codec := securecookie.New([]byte(opts.Secret), nil)
	codec.MaxAge(int(opts.TTL / time.Second))

	return &Authenticator{
		username:   sha256.Sum256([]byte(opts.Username)),
		password:   sha256.Sum256([]byte(opts.Password)),
		store:      NewStore(opts.TTL),
		codec:      codec,
		cookieName: opts.CookieName,
		secure:     opts.SecureCookie,
		ttl:        opts.TTL,
	}, nil
}

// Store exposes the session store so callers can run its janitor.
func (a *Authenticator) Store() *Store {
	return a.store
}

// Login checks credentials and, on success, replaces any existing session
// with a fresh one and sets its cookie.
func (a *Authenticator) Login(w http.ResponseWriter, r *http.Request, username, password string) error {
	if !a.checkCredentials(username, password) {
		return ErrUnauthorized
	}

	if old, ok := a.sessionID(r); ok {
		a.store.Destroy(old)
	}

	session := a.store.Create()
	encoded, err := a.codec.Encode(a.cookieName, session.ID)
	if err != nil {
		a.store.Destroy(session.ID)
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(a.ttl / time.Second),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Logout destroys the request's session and tells the client to drop its
// cookie.
func (a *Authenticator) Logout(w http.ResponseWriter, r *http.Request) error {
	id, ok := a.sessionID(r)
	if !ok {
		return ErrSessionNotFound
	}
	if err := a.store.Destroy(id); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// RequireAuth admits only requests carrying a live authenticated session
// and puts that session in the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := a.Session(r)
		if !ok {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), session)))
	})
}

// Session returns the live authenticated session for r, if any.
func (a *Authenticator) Session(r *http.Request) (Session, bool) {
	id, ok := a.sessionID(r)
	if !ok {
		return Session{}, false
	}
	session, ok := a.store.Get(id)
	if !ok || !session.Authenticated {
		return Session{}, false
	}
	return session, true
}

func (a *Authenticator) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	var id string
	if err := a.codec.Decode(a.cookieName, cookie.Value, &id); err != nil {
		slog.Debug("auth: rejected session cookie", "error", err)
		return "", false
	}
	return id, true
}

// checkCredentials compares fixed-size digests of both fields so timing
// depends on neither which field is wrong nor its length.
func (a *Authenticator) checkCredentials(username, password string) bool {
	u := sha256.Sum256([]byte(username))
	p := sha256.Sum256([]byte(password))
	userOK := subtle.ConstantTimeCompare(u[:], a.username[:])
	passOK := subtle.ConstantTimeCompare(p[:], a.password[:])
	return userOK&passOK == 1
}

type contextKey struct{}

func NewContext(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, contextKey{}, session)
}

func FromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(contextKey{}).(Session)
	return session, ok
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "Unauthorized"})
}
