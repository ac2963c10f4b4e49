package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "catalogsync",
	Short: "Bulk product catalog ingestion with webhook notifications",
	Long: `catalogsync accepts CSV product catalogs over HTTP, ingests them in
chunks on background workers and notifies webhook subscribers of every
product change.

Examples:
  catalogsync all                       # API and workers in one process
  catalogsync serve --config prod.yaml  # API only
  catalogsync worker                    # task workers, reaper and outbox relay
  catalogsync migrate                   # create or update tables and exit`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(), newWorkerCmd(), newAllCmd(), newMigrateCmd())
}

// loadConfig reads configuration and initializes the global logger from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger.InitLogger(cfg.Server.Environment,
		logger.WithLevel(cfg.Log.Level),
		logger.WithFile(logger.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}),
	)
	return cfg, nil
}

// runApp builds the application and runs fn until SIGINT or SIGTERM.
func runApp(fn func(*app.App, context.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("application startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	if err := fn(a, ctx); err != nil {
		logger.Error("application stopped with error", zap.Error(err))
		return err
	}
	logger.Info("exited properly")
	return nil
}
