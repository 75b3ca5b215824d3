package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"procpanel/internal/config"
	"procpanel/internal/logging"
	"procpanel/internal/rpc"
	"procpanel/internal/supervisor"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	socket    string
	logDir    string
	dbPath    string
	ecosystem string
	logLevel  string
	logFormat string
}

func main() {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".procpanel")

	opts := options{}
	cmd := &cobra.Command{
		Use:   "supervisord",
		Short: "Process supervisor controlled over a unix socket",
		Long: `Runs and monitors processes on behalf of the control panel.

Processes are restarted when they exit unexpectedly. The process table is
saved to a bolt database and restored on the next start. Apps listed in
the ecosystem file are registered at startup.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.socket, "socket", config.DefaultSocketPath(), "unix socket to listen on")
	flags.StringVar(&opts.logDir, "log-dir", filepath.Join(stateDir, "logs"), "directory for process log files")
	flags.StringVar(&opts.dbPath, "db", filepath.Join(stateDir, "dump.db"), "process table database")
	flags.StringVar(&opts.ecosystem, "ecosystem", "", "YAML file of apps to register at startup")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opts options) error {
	logging.Setup(os.Stderr, opts.logLevel, opts.logFormat)

	if err := os.MkdirAll(filepath.Dir(opts.dbPath), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	store, err := supervisor.OpenStore(opts.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr, err := supervisor.NewManager(supervisor.Options{LogDir: opts.logDir, Store: store})
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	if err := mgr.Resurrect(); err != nil {
		slog.Warn("supervisor: resurrect failed", "error", err)
	}

	if opts.ecosystem != "" {
		eco, err := config.LoadEcosystem(opts.ecosystem)
		if err != nil {
			return err
		}
		if err := mgr.LoadApps(eco.Apps); err != nil {
			return err
		}
		slog.Info("supervisor: ecosystem loaded", "path", opts.ecosystem, "apps", len(eco.Apps))
	}

	ln, err := rpc.ListenUnix(opts.socket)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := rpc.NewServer(mgr)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("supervisor: listening", "socket", opts.socket, "log_dir", opts.logDir)
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("supervisor: shutting down", "cause", context.Cause(gctx))
		return nil
	})

	err = g.Wait()
	os.Remove(opts.socket)
	return err
}
