package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/kirinyoku/tix-ledger/docs"
	"github.com/kirinyoku/tix-ledger/internal/app"
	"github.com/kirinyoku/tix-ledger/internal/config"
	"github.com/kirinyoku/tix-ledger/internal/postgres"
	"github.com/kirinyoku/tix-ledger/migrations"
	"github.com/spf13/cobra"
)

// @title TixLedger API
// @version 1.0
// @description Ticket sale ledger with member pricing and atomic purchase admission.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tixledger",
		Short:         "Ticket sale ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newMigrateCmd())

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			application, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to create application", "error", err)
				return err
			}

			if err := application.Run(cmd.Context()); err != nil {
				logger.Error("application finished with error", "error", err)
				return err
			}

			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded SQL migrations to postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				names, err := migrations.Names()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}

			cfg, logger, err := load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if cfg.Storage.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires STORAGE_DRIVER=%s", config.DriverPostgres)
			}

			pool, err := postgres.New(cmd.Context(), app.PostgresConfig(cfg))
			if err != nil {
				logger.Error("failed to connect to postgres", "error", err)
				return err
			}
			defer pool.Close()

			applied, err := migrations.Apply(cmd.Context(), pool)
			if err != nil {
				logger.Error("migration failed", "error", err)
				return err
			}

			logger.Info("migrations applied", "count", len(applied), "files", strings.Join(applied, ","))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list embedded migrations without connecting")

	return cmd
}

func load(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		slog.New(slog.NewTextHandler(stderr, nil)).Error("failed to load config", "error", err)
		return nil, nil, err
	}

	return cfg, newLogger(os.Stdout, cfg.Log), nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
