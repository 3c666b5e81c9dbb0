// Package cmd defines the CLI commands for the ingestor executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/config"
	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/server"
)

// App is the subset of *server.App the commands drive. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	RunWorker(ctx context.Context) error
	Ingest(ctx context.Context, job ingest.Job) (ingest.ProcessingResult, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, opts server.Options) (App, error) {
	return server.Build(ctx, cfg, opts)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "ingestor",
		Short: "Fetches, deduplicates and archives news search results.",
		Long: `ingestor searches a news provider, drops articles already seen in the
shared dedup cache, and writes a raw audit copy plus date and source
partitioned Parquet files for analytics.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); INGEST_* env vars override it")

	load := func(cmd *cobra.Command, opts server.Options) (App, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		app, err := newApp(cmd.Context(), cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize application services: %w", err)
		}
		return app, nil
	}

	cmd.AddCommand(newServeCmd(load))
	cmd.AddCommand(newWorkerCmd(load))
	cmd.AddCommand(newIngestCmd(load))
	return cmd
}

type appLoader func(cmd *cobra.Command, opts server.Options) (App, error)

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
