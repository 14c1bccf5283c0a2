package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmacedo/reportflow/internal/db"
	"github.com/rmacedo/reportflow/internal/logging"
	"github.com/rmacedo/reportflow/internal/scraper"
	"github.com/rmacedo/reportflow/internal/transform"
)

// Safety margin on top of the VPN switch timeout before the worker is
// abandoned.
const vpnTimeoutMargin = 10 * time.Second

// Connector is the blocking network-fallback routine. It offers no
// cancellation hook, which is why the VPN adapter races it against a timer
// instead of passing a context.
type Connector interface {
	ConnectWithFallback() (ok bool, message string)
}

// ScrapeSession is one browser-backed extraction. Close releases the
// browser and must be idempotent.
type ScrapeSession interface {
	Execute(ctx context.Context) (scraper.Outcome, error)
	Close()
}

// SessionFactory opens a fresh scrape session per attempt.
type SessionFactory func() ScrapeSession

// Transformer is the spreadsheet-cleaning collaborator.
type Transformer interface {
	Process(path string) transform.Result
}

// Database is the persist-phase surface of the load stage.
type Database interface {
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTableFromDataset(ctx context.Context, ds *transform.Dataset, table string) error
	BulkInsert(ctx context.Context, ds *transform.Dataset, table string) (int64, error)
	Close()
}

// DatabaseConnector acquires a Database for the duration of one load.
type DatabaseConnector func(ctx context.Context) (Database, error)

type vpnResult struct {
	ok      bool
	message string
}

// connectVPN runs the blocking connector on its own goroutine and awaits
// it with a hard deadline of SwitchTimeout plus the safety margin. On
// expiry the worker is abandoned, not cancelled: its eventual result is
// discarded through the buffered channel. A lingering dial is the accepted
// cost of a connector without a cancellation hook.
func (o *Orchestrator) connectVPN(logger *zap.Logger) bool {
	deadline := o.cfg.VPN.SwitchTimeout + o.vpnMargin

	results := make(chan vpnResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- vpnResult{ok: false, message: fmt.Sprintf("connector panic: %v", r)}
			}
		}()
		ok, msg := o.connector.ConnectWithFallback()
		results <- vpnResult{ok: ok, message: msg}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-results:
		if res.ok {
			logger.Info("network connection established", zap.String("via", res.message))
			return true
		}
		logger.Error("VPN connection failed", zap.String("reason", res.message))
		return false
	case <-timer.C:
		logger.Error("timed out waiting for VPN connection",
			zap.Duration("deadline", deadline),
			zap.String(logging.AlertField, "vpn_timeout"))
		return false
	}
}

// extract acquires a scrape session and guarantees its release on every
// exit path, including a panicking workflow.
func (o *Orchestrator) extract(ctx context.Context, logger *zap.Logger) (scraper.Outcome, error) {
	session := o.sessions()
	defer session.Close()

	logger.Info("starting portal extraction")
	return session.Execute(ctx)
}

// load runs the transform phase then the persist phase. The persist phase
// never starts when the transform reports failure, and the artifact is
// deleted only after the insert has committed. Every failure collapses to
// false; nothing escapes this stage.
func (o *Orchestrator) load(ctx context.Context, logger *zap.Logger, artifactPath string) bool {
	res := o.transformer.Process(artifactPath)
	if !res.Success {
		logger.Error("transform failed", zap.String("reason", res.Message))
		return false
	}
	logger.Info("data transformed", zap.Int("rows", res.Dataset.NumRows()))

	handle, err := o.connectDB(ctx)
	if err != nil {
		logger.Error("database connection failed", zap.Error(err))
		return false
	}
	defer handle.Close()

	table := o.cfg.Database.Table
	logger.Info("connected to database", zap.String("table", table))

	exists, err := handle.TableExists(ctx, table)
	if err != nil {
		logger.Error("table lookup failed", zap.Error(err))
		return false
	}
	if !exists {
		if err := handle.CreateTableFromDataset(ctx, res.Dataset, table); err != nil {
			logger.Error("table creation failed", zap.Error(err))
			return false
		}
		logger.Info("table created from dataset", zap.String("table", table))
	}

	rows, err := handle.BulkInsert(ctx, res.Dataset, table)
	if err != nil {
		logger.Error("bulk insert failed", zap.Error(err))
		return false
	}
	logger.Info("load committed", zap.Int64("rows", rows), zap.String("table", table))

	// The load is already committed; a leftover artifact only costs disk.
	if err := o.removeFile(artifactPath); err != nil {
		logger.Warn("artifact cleanup failed", zap.String("path", artifactPath), zap.Error(err))
	} else {
		logger.Info("artifact removed", zap.String("path", artifactPath))
	}

	return true
}

// browserSession adapts scraper.Session + Workflow to the ScrapeSession
// contract used by the orchestrator.
type browserSession struct {
	session  *scraper.Session
	workflow *scraper.Workflow
}

func (b *browserSession) Execute(ctx context.Context) (scraper.Outcome, error) {
	return b.workflow.Execute(ctx)
}

func (b *browserSession) Close() {
	b.session.Close()
}

// realDatabaseConnector wires db.Connect into the DatabaseConnector shape.
func realDatabaseConnector(o *Orchestrator) DatabaseConnector {
	return func(ctx context.Context) (Database, error) {
		handle, err := db.Connect(ctx, &o.cfg.Database, o.logger.Named("db"))
		if err != nil {
			return nil, err
		}
		return handle, nil
	}
}
