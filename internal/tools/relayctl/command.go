package relayctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/clinic-survey-relay/internal/config"
	"github.com/sandeepkv93/clinic-survey-relay/internal/di"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relaysync"
	"github.com/sandeepkv93/clinic-survey-relay/internal/tools/common"
	"github.com/sandeepkv93/clinic-survey-relay/internal/tools/loadgen"
	"github.com/sandeepkv93/clinic-survey-relay/internal/tools/ui"
)

// exitFailure is the process status for a failed check, distinct from
// cobra's usage errors.
const exitFailure = 4

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "relayctl",
		Short:        "Operate the clinic relay: drain, inspect and clean up",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file; existing variables win")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline in --ci mode")
	cmd.AddCommand(
		newDrainCommand(opts),
		newStatusCommand(opts),
		newCleanupCommand(opts),
		newRemirrorCommand(opts),
		newLoadgenCommand(opts),
	)
	return cmd
}

func newDrainCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Ingest every staged relay record into the local store once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "relayctl drain", func(ctx context.Context) ([]string, error) {
				return withTooling(ctx, true, func(ctx context.Context, tools *di.Tooling) ([]string, error) {
					report, err := tools.Ingestor.Drain(ctx, relaysync.TriggerDrain)
					details := []string{fmt.Sprintf("seen=%d ingested=%d duplicates=%d failed=%d skipped=%d",
						report.Seen, report.Ingested, report.Duplicates, report.Failed, report.Skipped)}
					if err == nil && report.Failed > 0 {
						err = fmt.Errorf("%d records could not be ingested and remain staged", report.Failed)
					}
					return details, err
				})
			})
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report relay reachability and the staged record backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "relayctl status", func(ctx context.Context) ([]string, error) {
				return withTooling(ctx, false, func(ctx context.Context, tools *di.Tooling) ([]string, error) {
					start := time.Now()
					if err := tools.Relay.Ping(ctx); err != nil {
						return nil, fmt.Errorf("relay unreachable: %w", err)
					}
					details := []string{fmt.Sprintf("relay reachable in %s", time.Since(start).Round(time.Millisecond))}
					pending, err := tools.Relay.CountUnconsumed(ctx, tools.Config.ClinicOwnerID)
					if err != nil {
						return details, err
					}
					details = append(details, fmt.Sprintf("owner=%s pending_records=%d", tools.Config.ClinicOwnerID, pending))
					return details, nil
				})
			})
		},
	}
}

func newCleanupCommand(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup-expired",
		Short: "Delete expired pending sessions past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return errors.New("--older-than must not be negative")
			}
			return execute(opts, "relayctl cleanup-expired", func(ctx context.Context) ([]string, error) {
				return withTooling(ctx, true, func(ctx context.Context, tools *di.Tooling) ([]string, error) {
					removed, err := tools.Sessions.CleanupExpired(ctx, olderThan)
					if err != nil {
						return nil, err
					}
					return []string{fmt.Sprintf("removed=%d older_than=%s", removed, olderThan)}, nil
				})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "only delete sessions expired longer than this")
	return cmd
}

func newRemirrorCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remirror",
		Short: "Push relay snapshots for pending sessions the relay never received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "relayctl remirror", func(ctx context.Context) ([]string, error) {
				return withTooling(ctx, true, func(ctx context.Context, tools *di.Tooling) ([]string, error) {
					mirrored, err := tools.Sessions.RetryMirrors(ctx)
					if err != nil {
						return nil, err
					}
					return []string{fmt.Sprintf("mirrored=%d", mirrored)}, nil
				})
			})
		},
	}
}

func newLoadgenCommand(opts *options) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate respondent traffic against a running clinic API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "relayctl loadgen", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				return res.Summary(), err
			})
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "mixed, resolve, unknown or submit")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "random seed for the operation mix")
	cmd.Flags().StringVar(&cfg.TemplateID, "template-id", "", "template for seeded sessions; a throwaway one is created when empty")
	cmd.Flags().IntVar(&cfg.Sessions, "sessions", 20, "sessions seeded for resolve traffic")
	return cmd
}

// withTooling loads configuration and wires the relay and local store for a
// single command.
func withTooling(ctx context.Context, needsLocalStore bool, fn func(context.Context, *di.Tooling) ([]string, error)) ([]string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if needsLocalStore {
		if err := di.RequireLocalStore(cfg); err != nil {
			return nil, err
		}
	}
	logging := &observability.Logging{
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	tools, cleanup, err := di.InitializeTooling(cfg, logging)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return fn(ctx, tools)
}

func execute(opts *options, title string, fn func(context.Context) ([]string, error)) error {
	details, err := run(opts, title, fn)
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	}
	if err != nil {
		os.Exit(exitFailure)
	}
	return nil
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}
