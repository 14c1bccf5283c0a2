// Package pipeline sequences the scheduled ETL: network setup, portal
// extraction, transform and database load, under a bounded retry loop with
// guaranteed resource cleanup.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacedo/reportflow/internal/config"
	"github.com/rmacedo/reportflow/internal/logging"
	"github.com/rmacedo/reportflow/internal/scraper"
	"github.com/rmacedo/reportflow/internal/transform"
	"github.com/rmacedo/reportflow/internal/vpn"
)

// Outcome is the terminal result of a pipeline run. Mapping it to a
// process exit code is the entry point's job, which keeps the orchestrator
// testable.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeExhausted
)

// ExitCode translates the outcome for the process boundary.
func (o Outcome) ExitCode() int {
	if o == OutcomeSucceeded {
		return 0
	}
	return 1
}

// Orchestrator drives the stage sequence VPN -> Extract -> Load. One
// attempt runs the stages in order; any stage failure parks the run for
// the retry delay and starts over, up to MaxRetries attempts. The stages
// never run concurrently.
type Orchestrator struct {
	cfg         *config.Config
	connector   Connector
	sessions    SessionFactory
	transformer Transformer
	connectDB   DatabaseConnector
	logger      *zap.Logger

	// Seams for tests.
	vpnMargin  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	removeFile func(path string) error
}

// New wires an Orchestrator with the production collaborators.
func New(cfg *config.Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:         cfg,
		connector:   vpn.NewManager(&cfg.VPN, logger.Named("vpn")),
		transformer: transform.NewHandler(logger.Named("transform")),
		logger:      logger,
		vpnMargin:   vpnTimeoutMargin,
		sleep:       sleepCtx,
		removeFile:  os.Remove,
	}
	o.sessions = func() ScrapeSession {
		session := scraper.NewSession(&cfg.Scraper, logger.Named("scraper"))
		return &browserSession{
			session:  session,
			workflow: scraper.NewWorkflow(&cfg.Scraper, session, logger.Named("scraper")),
		}
	}
	o.connectDB = realDatabaseConnector(o)
	return o
}

// Run executes the retry loop and returns the terminal outcome. On
// success it logs the elapsed wall-clock time since the run started,
// formatted HH:MM:SS.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	start := time.Now()
	logger := o.logger.With(zap.String("run_id", uuid.New().String()))

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		logger.Info("pipeline attempt starting",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", o.cfg.MaxRetries))

		err := o.runAttempt(ctx, logger)
		if err == nil {
			logger.Info("pipeline completed",
				zap.String("elapsed", formatElapsed(time.Since(start))))
			return OutcomeSucceeded
		}

		logger.Warn("pipeline attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))

		// No trailing wait after the final attempt.
		if attempt < o.cfg.MaxRetries {
			logger.Info("waiting before retry", zap.Duration("delay", o.cfg.RetryDelay))
			if err := o.sleep(ctx, o.cfg.RetryDelay); err != nil {
				logger.Warn("run cancelled during retry wait", zap.Error(err))
				break
			}
		}
	}

	logger.Error("pipeline failed after all attempts",
		zap.Int("max_retries", o.cfg.MaxRetries),
		zap.String(logging.AlertField, "retries_exhausted"))
	return OutcomeExhausted
}

// runAttempt runs the three stages in order and reports the first failure
// as a tagged StageError.
func (o *Orchestrator) runAttempt(ctx context.Context, logger *zap.Logger) error {
	if !o.connectVPN(logger) {
		return &StageError{Kind: FailureConnection, Message: "network/VPN unavailable"}
	}

	outcome, err := o.extract(ctx, logger)
	if err != nil {
		return &StageError{Kind: FailureExtraction, Message: "scrape workflow errored", Cause: err}
	}
	if !outcome.Success || outcome.ArtifactPath == "" {
		return &StageError{Kind: FailureExtraction, Message: "scrape produced no artifact"}
	}

	if !o.load(ctx, logger, outcome.ArtifactPath) {
		return &StageError{Kind: FailureLoad, Message: "transform or persist failed"}
	}
	return nil
}

// formatElapsed renders a duration as zero-padded HH:MM:SS, truncated to
// whole seconds.
func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
