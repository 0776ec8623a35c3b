// Package cmd defines and implements the CLI commands for the kr-car-crawler executable.
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

	"github.com/JakeFAU/kr-car-crawler/internal/config"
	"github.com/JakeFAU/kr-car-crawler/internal/logging"
	"github.com/JakeFAU/kr-car-crawler/internal/metrics"
)

type runtimeKey struct{}

// runtime is the per-invocation state built by the root command.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root command with its persistent flags and subcommands.
func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		envFile string
	)
	cmd := &cobra.Command{
		Use:   "kr-car-crawler",
		Short: "Scrapes Korean used-car marketplaces into Postgres.",
		Long: `kr-car-crawler crawls bobaedream, kbchachacha and encar, normalizes every
listing into one vocabulary, and reconciles each body-type partition against
the cars table, soft-deleting listings that disappeared.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			metrics.Init()
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (environment variables use the CRAWLER_ prefix)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration; missing files are ignored")

	cmd.AddCommand(newCrawlCmd(), newMigrateCmd(), newServeCmd())
	return cmd
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
