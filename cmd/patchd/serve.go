package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/patchd/internal/config"
	httpserver "github.com/fyrsmithlabs/patchd/internal/http"
	"github.com/fyrsmithlabs/patchd/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the patchd HTTP API",
		Long: `Start the HTTP API on the configured loopback address.

Examples:
  # Start with defaults (127.0.0.1:9611)
  patchd serve

  # Reload analysis, auto-fix and reflexion settings when the file changes
  patchd serve --config ./patchd.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "reload configuration when the config file changes")
	return cmd
}

// runServe starts the server and blocks until ctx is cancelled or the
// listener fails.
func runServe(ctx context.Context, g *globalFlags, watch bool) error {
	rt, err := setup(ctx, g, true)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())
	logger := rt.logger.Underlying()

	if degraded, cause := rt.tel.Degraded(); degraded {
		logger.Warn("telemetry degraded", zap.Error(cause))
	}

	svc, err := service.New(service.Options{
		Config:  rt.cfg,
		BaseDir: g.dir,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	opts := httpserver.Options{Version: version, Degraded: rt.tel.Degraded}
	if rt.cfg.Telemetry.Prometheus {
		opts.MetricsHandler = rt.tel.MetricsHandler()
	}
	server, err := httpserver.NewServer(svc, logger, opts)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if watch {
		path := g.configPath
		if path == "" {
			if path, err = config.DefaultPath(); err != nil {
				return err
			}
		}
		w, err := config.NewWatcher(path, logger.Named("config"), svc.Reload)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		go w.Run(ctx)
		logger.Info("watching config", zap.String("path", path))
	}

	logger.Info("starting patchd",
		zap.String("version", version),
		zap.String("addr", rt.cfg.Server.Address()),
		zap.String("dir", svc.BaseDir()),
		zap.String("analysis_provider", rt.cfg.Analysis.Provider),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}
