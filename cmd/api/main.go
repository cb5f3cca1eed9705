package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/clinic-survey-relay/internal/config"
	"github.com/sandeepkv93/clinic-survey-relay/internal/database"
	"github.com/sandeepkv93/clinic-survey-relay/internal/di"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/tools/common"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "api",
		Short:        "Clinic survey session relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file; existing variables win")
	serve := newServeCommand()
	root.AddCommand(serve, newMigrateCommand())
	root.RunE = serve.RunE
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, in the clinic profile, the sync coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			a, cleanup, err := di.InitializeApp(ctx, cfg, logging)
			if err != nil {
				logging.Logger.Error("initialize app", "error", err)
				return err
			}
			defer cleanup()

			logging.Logger.Info("starting",
				"profile", string(cfg.DeploymentProfile),
				"relay_backend", cfg.RelayBackend,
				"sync_enabled", a.Coordinator != nil,
			)
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the local store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := di.RequireLocalStore(cfg); err != nil {
				return err
			}
			db, err := database.Open(database.Options{DSN: cfg.DatabaseURL})
			if err != nil {
				return err
			}
			defer func() { _ = database.Close(db) }()
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "local store schema is up to date")
			return nil
		},
	}
}

