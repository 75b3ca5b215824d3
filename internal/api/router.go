package api

import (
	"errors"
	"io/fs"
	"net/http"

	"procpanel/internal/auth"
	"procpanel/internal/browser"
	"procpanel/internal/gateway"
	"procpanel/internal/handlers"
	"procpanel/internal/logs"
	"procpanel/internal/middleware"

	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20

type Router struct {
	*mux.Router
}

// Deps are the components the routes delegate to.
type Deps struct {
	Gateway          *gateway.Gateway
	Auth             *auth.Authenticator
	Browser          *browser.Browser
	ScriptExtensions []string
	TemplatesFS      fs.FS
	StaticFS         fs.FS
}

func NewRouter(d Deps) (*Router, error) {
	if d.Gateway == nil || d.Auth == nil || d.Browser == nil {
		return nil, errors.New("router: gateway, auth and browser are required")
	}

	r := mux.NewRouter()

	tmplHandler, err := handlers.NewTemplateHandler(d.TemplatesFS, d.ScriptExtensions)
	if err != nil {
		return nil, err
	}

	procHandler := handlers.NewProcessHandler(d.Gateway)
	authHandler := handlers.NewAuthHandler(d.Auth)
	logHandler := handlers.NewLogHandler(logs.NewStreamer(d.Gateway))
	browseHandler := handlers.NewBrowseHandler(d.Browser)
	ready := handlers.RequireReady(d.Gateway)

	// Health check endpoints
	r.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ready", handlers.ReadyCheck(d.Gateway)).Methods(http.MethodGet)

	r.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)
	r.Handle("/logout", d.Auth.RequireAuth(http.HandlerFunc(authHandler.Logout))).Methods(http.MethodPost)

	// Serve static files (CSS, JS)
	staticHandler := http.FileServer(http.FS(d.StaticFS))
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", staticHandler))

	// API routes: auth first, then supervisor readiness
	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = d.Auth.RequireAuth(http.HandlerFunc(handlers.NotFound))
	api.Use(d.Auth.RequireAuth)

	api.HandleFunc("/session", authHandler.Session).Methods(http.MethodGet)
	api.Handle("/processes", ready(http.HandlerFunc(procHandler.List))).Methods(http.MethodGet)
	api.Handle("/start", ready(http.HandlerFunc(procHandler.Start))).Methods(http.MethodPost)
	api.Handle("/restart/{id}", ready(http.HandlerFunc(procHandler.Restart))).Methods(http.MethodPost)
	api.Handle("/stop/{id}", ready(http.HandlerFunc(procHandler.Stop))).Methods(http.MethodPost)
	api.Handle("/delete/{id}", ready(http.HandlerFunc(procHandler.Delete))).Methods(http.MethodDelete)
	api.Handle("/restartAll", ready(http.HandlerFunc(procHandler.RestartAll))).Methods(http.MethodPost)
	api.Handle("/stopAll", ready(http.HandlerFunc(procHandler.StopAll))).Methods(http.MethodPost)
	api.Handle("/describe/{id}", ready(http.HandlerFunc(procHandler.Describe))).Methods(http.MethodGet)
	api.Handle("/logs/{id}", ready(http.HandlerFunc(logHandler.Stream))).Methods(http.MethodGet)
	api.Handle("/logs/{id}/follow", ready(http.HandlerFunc(logHandler.Follow))).Methods(http.MethodGet)
	api.Handle("/browse", ready(http.HandlerFunc(browseHandler.Browse))).Methods(http.MethodGet)

	// Everything else gets the UI shell; the client routes internally.
	r.PathPrefix("/").HandlerFunc(tmplHandler.ServeTemplate("index")).Methods(http.MethodGet)

	// Apply middleware
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.MaxBody(maxRequestBody))

	return &Router{Router: r}, nil
}
