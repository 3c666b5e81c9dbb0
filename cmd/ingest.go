package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/clock"
	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/server"
)

type ingestFlags struct {
	query    string
	limit    int
	language string
	source   string
	at       string
}

func newIngestCmd(load appLoader) *cobra.Command {
	var flags ingestFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one search synchronously and print the result",
		Long: `ingest runs a single job through fetch, dedup, normalize and store,
then prints the processing result as JSON. --at pins the processing time so
a backfill lands in the partitions for that moment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, load, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.query, "query", "q", "", "search query (required)")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", ingest.DefaultJobLimit, "maximum articles to fetch (1-100)")
	cmd.Flags().StringVar(&flags.language, "language", ingest.DefaultLanguage, "two-letter language code")
	cmd.Flags().StringVar(&flags.source, "source", "cli", "label recorded with the job")
	cmd.Flags().StringVar(&flags.at, "at", "", "processing time override (RFC3339)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func runIngest(cmd *cobra.Command, load appLoader, flags ingestFlags) error {
	var opts server.Options
	if flags.at != "" {
		at, err := time.Parse(time.RFC3339, flags.at)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		opts.Clock = clock.NewFixed(at)
	}

	app, err := load(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(cmd.Context()); cerr != nil {
			app.Logger().Warn("failed to close application", zap.Error(cerr))
		}
	}()

	result, err := app.Ingest(cmd.Context(), ingest.Job{
		Query:    flags.query,
		Limit:    flags.limit,
		Language: flags.language,
		Source:   flags.source,
	})
	if err != nil {
		return fmt.Errorf("ingest %q: %w", flags.query, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
