package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"athsync/config"
	"athsync/internal/scheduler"
	"athsync/pkg/storage/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	dryRun     bool
	seedPath   string
}

// errAborted makes the process exit non-zero after the summary was printed.
var errAborted = errors.New("run aborted")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errAborted) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "Refresh prices and all-time highs for tracked token calls",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (default: ./config/config.yaml)")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "use an in-memory call store instead of the configured backend")
	root.PersistentFlags().StringVar(&opts.seedPath, "seed", "", "JSON file of calls loaded into the in-memory store")

	root.AddCommand(newRunCmd(opts), newVerifyCmd(opts), newDaemonCmd(opts), newMigrateCmd(opts))
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var tierName string
	var maxCalls int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one liquidity tier once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.pushMetrics("run")

			tier, err := lookupTier(a.cfg, tierName)
			if err != nil {
				return err
			}
			sum, runErr := a.sched.RunTier(cmd.Context(), tier, maxCalls)
			if sum == nil {
				return runErr
			}
			if err := printJSON(cmd, sum); err != nil {
				return err
			}
			if runErr != nil || sum.Aborted {
				a.log.Error("run aborted", zap.String("tier", tier.Name), zap.Error(runErr))
				return errAborted
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tierName, "tier", "high", "tier name from scheduler.tiers")
	cmd.Flags().IntVar(&maxCalls, "max", 0, "maximum calls to process (default: tier batch_size)")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var tierName string
	var maxCalls int
	var id int64

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute stored ATHs and report discrepancies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			defer a.pushMetrics("verify")

			if cmd.Flags().Changed("id") {
				report, err := a.verify.Verify(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			}

			tier, err := lookupTier(a.cfg, tierName)
			if err != nil {
				return err
			}
			sum, runErr := a.verify.VerifyBatch(cmd.Context(), tier, maxCalls)
			if sum == nil {
				return runErr
			}
			if err := printJSON(cmd, sum); err != nil {
				return err
			}
			if runErr != nil || sum.Aborted {
				a.log.Error("verification aborted", zap.String("tier", tier.Name), zap.Error(runErr))
				return errAborted
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "verify a single call by id")
	cmd.Flags().StringVar(&tierName, "tier", "high", "tier name from scheduler.tiers")
	cmd.Flags().IntVar(&maxCalls, "max", 0, "maximum calls to verify (default: verifier.batch_size)")
	cmd.MarkFlagsMutuallyExclusive("id", "tier")
	return cmd
}

func newDaemonCmd(opts *rootOptions) *cobra.Command {
	var verifyEvery int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run every tier on its cadence until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()

			d := &scheduler.Daemon{
				Interval: a.cfg.Scheduler.CycleInterval,
				Jobs:     daemonJobs(a, verifyEvery),
				Logger:   a.log.With(zap.String("component", "daemon")),
			}
			a.log.Info("daemon started",
				zap.Duration("interval", d.Interval),
				zap.Int("jobs", len(d.Jobs)),
			)
			return d.Start(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&verifyEvery, "verify-every", 12, "run verification every N cycles per tier, 0 disables")
	return cmd
}

func daemonJobs(a *app, verifyEvery int) []scheduler.Job {
	var jobs []scheduler.Job
	for _, tier := range a.cfg.Scheduler.Tiers {
		tier := tier
		jobs = append(jobs, scheduler.Job{
			Name:  "run:" + tier.Name,
			Every: tier.Every,
			Run: func(ctx context.Context) error {
				defer a.pushMetrics("daemon")
				sum, err := a.sched.RunTier(ctx, tier, 0)
				if sum != nil {
					a.log.Info("tier run finished",
						zap.String("tier", tier.Name),
						zap.Int("processed", sum.Processed),
						zap.Int("updated", sum.Updated),
						zap.Int("failed", sum.Failed),
						zap.Int("backlog", sum.Backlog),
					)
				}
				return err
			},
		})
		if verifyEvery <= 0 {
			continue
		}
		jobs = append(jobs, scheduler.Job{
			Name:  "verify:" + tier.Name,
			Every: verifyEvery * max(tier.Every, 1),
			Run: func(ctx context.Context) error {
				sum, err := a.verify.VerifyBatch(ctx, tier, 0)
				if sum != nil {
					a.log.Info("verification finished",
						zap.String("tier", tier.Name),
						zap.Int("verified", sum.Verified),
						zap.Int("corrected", sum.Corrected),
					)
				}
				return err
			},
		})
	}
	return jobs
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var createDB bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the calls table in PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, createDB)
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrated calls table in %s\n", cfg.Postgres.DBName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&createDB, "create-db", false, "create the database first if it does not exist")
	return cmd
}

func lookupTier(cfg *config.Config, name string) (config.TierConfig, error) {
	tier, ok := cfg.Scheduler.Tier(name)
	if !ok {
		return config.TierConfig{}, fmt.Errorf("unknown tier %q", name)
	}
	return tier, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
