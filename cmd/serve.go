package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-news-ingestor/internal/server"
)

func newServeCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and consume queued jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd, server.Options{})
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func newWorkerCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued jobs and run schedules without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd, server.Options{})
			if err != nil {
				return err
			}
			return app.RunWorker(cmd.Context())
		},
	}
}
