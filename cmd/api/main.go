package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"

	"github.com/convertcredits/backend/internal/config"
	"github.com/convertcredits/backend/internal/infrastructure"
	"github.com/convertcredits/backend/internal/repository"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "convertcredits",
		Short:         "Credit admission and settlement backend for conversion jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), workerCmd(), sweepCmd(), reconcileCmd(), migrateCmd())
	return root
}

// setup loads configuration and installs the JSON logger as the default.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the conversion workers and the recovery sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServers(cmd, migrate, modeServe)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before starting")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the conversion workers only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServers(cmd, false, modeWorker)
		},
	}
}

func runServers(cmd *cobra.Command, migrate bool, mode runMode) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	if migrate {
		if err := migrateAll(ctx, cfg, "up", logger); err != nil {
			return err
		}
	}
	app, cleanup, err := bootstrap(ctx, cfg, logger, mode)
	if err != nil {
		return err
	}
	defer cleanup()

	var servers []infrastructure.Server
	servers = append(servers, infrastructure.NewRiverServer(app.river, logger))
	if mode == modeServe {
		servers = append(servers,
			infrastructure.NewHTTPServer(cfg.Addr(), app.httpHandler(cfg), logger),
			infrastructure.NewLoopServer(app.sweeper.Run),
		)
	}
	logger.Info("starting", "command", cmd.Name(), "addr", cfg.Addr(), "job_types", len(app.policies.All()))
	if err := infrastructure.NewApp(logger, servers...).Run(ctx); err != nil {
		logger.Error("shutdown with error", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery sweep over stuck queued jobs and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			app, cleanup, err := bootstrap(ctx, cfg, logger, modeInsertOnly)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := app.sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if report.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "skipped: another sweeper holds the lease")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d repaired=%d duplicates=%d errors=%d\n",
				report.Scanned, report.Repaired, report.Duplicates, report.Errors)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check every account balance against the sum of its ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			app, cleanup, err := bootstrap(ctx, cfg, logger, modeInsertOnly)
			if err != nil {
				return err
			}
			defer cleanup()

			mismatches, err := app.reconciler.Check(ctx)
			if err != nil {
				return err
			}
			for _, m := range mismatches {
				fmt.Fprintf(cmd.OutOrStdout(), "%s balance=%d ledger=%d\n", m.AccountID, m.Balance, m.LedgerSum)
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%d accounts out of balance", len(mismatches))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger balanced")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage the application and River schemas",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			ctx, stop := signalContext()
			defer stop()
			return migrateAll(ctx, cfg, command, logger)
		},
	}
}

// migrateAll runs goose for the application schema, then River's own
// migrations. River's schema is only moved on "up"; its tables are
// dropped by hand if ever needed.
func migrateAll(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if err := repository.RunMigrations(ctx, cfg.DatabaseURL, command, logger); err != nil {
		return err
	}
	if command != "up" {
		return nil
	}
	pool, err := infrastructure.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	logger.Info("river migrations applied", "versions", len(res.Versions))
	return nil
}
