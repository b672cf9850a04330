// Package main implements the patchd CLI.
//
// Usage:
//
//	# Serve the HTTP API, reloading config on change
//	patchd serve --watch
//
//	# Apply a plan from stdin inside the current directory
//	patchd apply - < plan.json
//
//	# Preview a plan under an envelope
//	patchd apply --dry-run --envelope envelope.toml plan.json
//
//	# Inspect the failure registry
//	patchd registry show
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// exitError carries a process exit code without printing an error.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dir        string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "patchd",
		Short: "Apply structured code patches and learn from failures",
		Long: `patchd applies patch plans (search/replace, anchor and AST operations)
to a working tree inside a task envelope, classifies failures, suggests
remediations and records what failed in a local registry.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default ~/.config/patchd/config.yaml)")
	root.PersistentFlags().StringVar(&g.dir, "dir", ".", "project root plans are applied in")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newApplyCmd(g))
	root.AddCommand(newRegistryCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "patchd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// deps bundles the configuration, logger and telemetry a command runs
// with.
type deps struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

// setup loads the config and builds the logger. Telemetry providers are
// only installed for long-running commands.
func setup(ctx context.Context, g *globalFlags, withTelemetry bool) (*deps, error) {
	cfg, warnings, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var tel *telemetry.Telemetry
	if withTelemetry {
		tel, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	provider := tel.LoggerProvider()
	logCfg.Output.OTEL = provider != nil
	logger, err := logging.NewLogger(logCfg, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	for _, w := range warnings {
		logger.Warn(ctx, "config value replaced by default", zap.String("reason", w))
	}
	return &deps{cfg: cfg, logger: logger, tel: tel}, nil
}

func (r *deps) close(ctx context.Context) {
	if err := r.tel.Shutdown(ctx); err != nil {
		r.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = r.logger.Sync()
}
