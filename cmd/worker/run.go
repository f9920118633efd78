package main

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/timmy/paperpilot/internal/jobs"
	"github.com/timmy/paperpilot/internal/logger"
)

var runPayload string

var runCmd = &cobra.Command{
	Use:   "run <kind>",
	Short: "Run one job inline and print its outcome",
	Long: fmt.Sprintf(`Run executes a single job synchronously and records it like a queued one.

Kinds: %s

Example:
  worker run daily_crawl --payload '{"days":2,"sources":["arxiv"]}'`, kindNames()),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := jobs.ParseKind(args[0])
		if err != nil {
			return err
		}
		job, err := jobs.NewJob(kind, nil)
		if err != nil {
			return err
		}
		if runPayload != "" {
			if !json.Valid([]byte(runPayload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}
			job.Payload = json.RawMessage(runPayload)
		}

		app, log, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		run, err := app.Runner.Run(cmd.Context(), job)
		if run != nil {
			log.WithFields(logger.Fields{
				logger.FieldJobID:   run.ID,
				logger.FieldJobKind: run.Kind,
				logger.FieldStatus:  string(run.Status),
			}).Info("Job finished")
			fmt.Fprintln(cmd.OutOrStdout(), run.Result)
		}
		return err
	},
}

func kindNames() string {
	names := make([]string, len(jobs.Kinds))
	for i, k := range jobs.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func init() {
	runCmd.Flags().StringVar(&runPayload, "payload", "", "JSON payload for the job")
	rootCmd.AddCommand(runCmd)
}
