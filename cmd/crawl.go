package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/kr-car-crawler/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs the selected sources
// concurrently and exits non-zero when any of them failed.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl [source...]",
		Short: "Crawl marketplaces and reconcile the listings",
		Long: `Marks each selected source pending, then crawls them concurrently. Every
body-type batch is swept and upserted as soon as it is parsed. With no
arguments the sources listed in crawler.sources are crawled.`,
		ValidArgs: []string{"bobaedream", "kbchachacha", "encar"},
		RunE:      runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	sources, err := rt.cfg.SelectedSources(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			rt.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	if rt.cfg.Server.Addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := a.StatusServer().Serve(srvCtx, rt.cfg.Server.Addr); err != nil {
				rt.logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	r, err := a.Runner(ctx)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	summaries, err := r.RunAll(ctx, sources)
	for _, s := range summaries {
		rt.logger.Info("source finished",
			zap.String("source", string(s.Source)),
			zap.String("status", string(s.Status)),
			zap.Int64("listings", s.Counts.Listings),
			zap.Int64("swept", s.Counts.Swept),
		)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("crawl interrupted: %w", err)
		}
		return err
	}
	return nil
}
