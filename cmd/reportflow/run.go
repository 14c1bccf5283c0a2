package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacedo/reportflow/internal/config"
	"github.com/rmacedo/reportflow/internal/logging"
	"github.com/rmacedo/reportflow/internal/pipeline"
)

// runOutcome carries the pipeline's terminal result out to main, which
// owns the only os.Exit call. Defaults to success so help/usage paths
// exit zero.
var runOutcome = pipeline.OutcomeSucceeded

var rootCmd = &cobra.Command{
	Use:   "reportflow",
	Short: "Scheduled ETL: scrape the report portal and load it into Postgres",
	Long: `reportflow establishes the VPN route, downloads the daily report
spreadsheet from the web portal, cleans it and bulk-loads the result into
the target table. Configuration comes from the environment (or a .env
file); the scheduler invokes it with no arguments.

Exit status is 0 on a successful load and 1 after retries are exhausted.`,
	SilenceUsage: true,
	RunE:         runPipelineCmd,
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New("orchestrator")
	defer func() { _ = logger.Sync() }()

	runOutcome = pipeline.New(cfg, logger).Run(cmd.Context())
	return nil
}
