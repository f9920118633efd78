// Package main is the paperpilot worker: it runs background jobs inline or
// serves the job queue on a schedule.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/timmy/paperpilot/internal/bootstrap"
	"github.com/timmy/paperpilot/internal/config"
	"github.com/timmy/paperpilot/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run paperpilot background jobs",
	Long: `worker executes the background jobs of the recommender: crawling the
configured sources, analyzing publication trends, precomputing user
recommendations and rebuilding missing embeddings.

Use "run" for a single job and "serve" for the scheduled queue consumer.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config file")
}

// loadApp loads configuration, installs the logger and wires the services.
func loadApp(cmd *cobra.Command) (*bootstrap.App, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := bootstrap.NewLogger(cfg, "paperpilot-worker")
	app, err := bootstrap.New(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return app, log, nil
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
