package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/app"
	"github.com/JakeFAU/compliance-archiver/internal/config"
	"github.com/JakeFAU/compliance-archiver/internal/logging"
	"github.com/JakeFAU/compliance-archiver/internal/telemetry"
)

// Version is stamped at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = app.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Capture web pages as tamper-evident compliance artifacts.",
		Long: `archiver renders URLs to PDF or PNG, hashes each artifact with SHA-256,
stores it under a retention lock and records its provenance. It runs as an
HTTP service with a worker pool or as a one-shot command line tool.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			if cfg.Tracing.Enabled {
				providers, err := telemetry.Init(cmd.Context(), telemetry.Config{
					ServiceName: cfg.Tracing.ServiceName,
					Version:     Version,
					Environment: cfg.Environment,
					ProjectID:   cfg.Tracing.ProjectID,
					SampleRatio: cfg.Tracing.SampleRatio,
				})
				if err != nil {
					return fmt.Errorf("init telemetry: %w", err)
				}
				cobra.OnFinalize(func() {
					if err := providers.Shutdown(context.Background()); err != nil {
						logger.Warn("telemetry shutdown failed", zap.Error(err))
					}
				})
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, err := resolveApp(cmd.Context()); err == nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newRunSchedulesCmd())
	cmd.Version = Version
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
