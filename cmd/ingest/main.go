package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/govchat/internal/app"
	"github.com/suPer8Hu/govchat/internal/auth"
	"github.com/suPer8Hu/govchat/internal/config"
	"github.com/suPer8Hu/govchat/internal/ingest"
	"github.com/suPer8Hu/govchat/internal/logging"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Crawl Canada.ca pages into the knowledge index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newScheduleCmd(), newHashPasswordCmd())
	return root
}

// bootstrap loads config, optionally overriding the sources file.
func bootstrap(ctx context.Context, sourcesFile string) (*app.App, *zap.Logger, error) {
	cfg := config.Load()
	if sourcesFile != "" {
		cfg.SourcesFile = sourcesFile
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, log, nil
}

func newRunCmd() *cobra.Command {
	var (
		urls     []string
		sitemaps []string
		sources  string
		prune    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if prune && (len(urls) > 0 || len(sitemaps) > 0) {
				return errors.New("--prune is only allowed for a full source run")
			}
			a, log, err := bootstrap(cmd.Context(), sources)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			defer func() { _ = log.Sync() }()

			req := a.Runner.RequestFor(ingest.JobRequest{URLs: urls, Sitemaps: sitemaps, Prune: prune})
			sum, err := a.Pipeline.Run(cmd.Context(), req)
			if sum != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(sum); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "page URL to ingest (repeatable)")
	cmd.Flags().StringSliceVar(&sitemaps, "sitemap", nil, "sitemap URL to expand (repeatable)")
	cmd.Flags().StringVar(&sources, "sources", "", "YAML sources file, defaults to SOURCES_FILE")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete documents no longer listed by the sources")
	return cmd
}

func newScheduleCmd() *cobra.Command {
	var (
		spec    string
		sources string
		prune   bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Re-crawl the sources on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := bootstrap(cmd.Context(), sources)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			defer func() { _ = log.Sync() }()

			if spec == "" {
				spec = a.Cfg.IngestCron
			}
			if spec == "" {
				return errors.New("no schedule: pass --cron or set INGEST_CRON")
			}

			s := ingest.NewScheduler(log)
			if err := s.ScheduleSources(cmd.Context(), spec, a.Runner, prune); err != nil {
				return err
			}
			s.Start()
			log.Info("ingestion scheduled", zap.String("cron", spec))

			<-cmd.Context().Done()
			<-s.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron spec, defaults to INGEST_CRON")
	cmd.Flags().StringVar(&sources, "sources", "", "YAML sources file, defaults to SOURCES_FILE")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete documents no longer listed by the sources")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
}
