package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"procpanel/internal/api"
	"procpanel/internal/auth"
	"procpanel/internal/browser"
	"procpanel/internal/config"
	"procpanel/internal/gateway"
	"procpanel/internal/logging"
	"procpanel/internal/rpc"
	"procpanel/internal/sandbox"
	"procpanel/web"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "procpanel",
		Short: "Web control panel for the process supervisor",
		Long: `Serves the process control panel. Requires a running supervisord
reachable over its unix socket; exits if it cannot connect at startup.

Configuration comes from an optional YAML file overlaid by environment
variables (ADMIN_PASSWORD and SESSION_SECRET are required).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	sb, err := sandbox.New(cfg.Sandbox.BaseDir)
	if err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}

	authn, err := auth.New(auth.Options{
		Username:     cfg.Auth.Username,
		Password:     cfg.Auth.Password,
		Secret:       cfg.Auth.SessionSecret,
		TTL:          cfg.Auth.SessionTTL,
		SecureCookie: cfg.Auth.SecureCookie,
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	gw := gateway.New(sb, gateway.Options{MaxInstances: cfg.Supervisor.MaxInstances})
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.Supervisor.ConnectTimeout)
	err = gw.Connect(connectCtx, func(ctx context.Context) (gateway.Backend, error) {
		client, err := rpc.Dial(ctx, "unix", cfg.Supervisor.Socket)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
	cancelConnect()
	if err != nil {
		return fmt.Errorf("connect to supervisor at %s: %w", cfg.Supervisor.Socket, err)
	}
	defer gw.Close()

	templatesFS, err := web.GetTemplatesFS()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	router, err := api.NewRouter(api.Deps{
		Gateway:          gw,
		Auth:             authn,
		Browser:          browser.New(sb, cfg.Sandbox.ScriptExtensions),
		ScriptExtensions: cfg.Sandbox.ScriptExtensions,
		TemplatesFS:      templatesFS,
		StaticFS:         web.GetStaticFS(),
	})
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go authn.Store().RunJanitor(ctx, 10*time.Minute)

	// No WriteTimeout: log downloads and follow sockets are long-lived.
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting web server", "addr", cfg.Server.Address, "base_dir", sb.Base())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited gracefully")
	return nil
}
