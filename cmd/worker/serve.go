package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timmy/paperpilot/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume the job queue and submit scheduled jobs",
	Long: `Serve starts the queue consumer and a schedule that submits daily_crawl
and weekly_trends at the configured intervals (jobs.crawl_interval and
jobs.trends_interval). It stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, log, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		cfg := app.Config

		running := make(chan struct{})
		consumeErr := make(chan error, 1)
		go func() { consumeErr <- app.Queue.Consume(ctx, app.Runner, running) }()

		select {
		case <-running:
		case err := <-consumeErr:
			return err
		}

		go jobs.RunSchedule(ctx, app.Queue, []jobs.ScheduleEntry{
			{
				Kind:    jobs.KindDailyCrawl,
				Every:   cfg.Jobs.CrawlInterval,
				Payload: jobs.CrawlPayload{Days: cfg.Jobs.CrawlDays},
			},
			{
				Kind:    jobs.KindWeeklyTrends,
				Every:   cfg.Jobs.TrendsInterval,
				Payload: jobs.TrendsPayload{Days: cfg.Jobs.TrendDays, Clusters: cfg.Jobs.TrendClusters},
			},
		})
		log.WithField("topic", app.Queue.Topic()).Info("Worker serving")

		err = <-consumeErr
		log.Info("Worker stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
