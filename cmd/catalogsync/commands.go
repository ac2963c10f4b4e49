package main

import (
	"context"

	"catalogsync/internal/app"
	"catalogsync/pkg/logger"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and progress streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp((*app.App).RunServer)
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run task workers, the reaper and the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp((*app.App).RunWorker)
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run the API and the workers in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp((*app.App).RunAll)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(func(a *app.App, _ context.Context) error {
				if err := a.Migrate(); err != nil {
					return err
				}
				logger.Info("database migrated")
				return nil
			})
		},
	}
}
