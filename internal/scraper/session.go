// Package scraper automates the report portal with a headless browser and
// produces the downloaded spreadsheet for the load stage.
package scraper

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/rmacedo/reportflow/internal/config"
)

// Session owns the browser process for one extraction run. It is expensive
// to hold open: callers must Close it on every exit path. Close is
// idempotent so a deferred release after a failed run is safe.
type Session struct {
	cfg       *config.ScraperConfig
	logger    *zap.Logger
	ctx       context.Context
	cancelCtx context.CancelFunc
	cancelAll context.CancelFunc
	closeOnce sync.Once
}

// NewSession prepares the browser allocator and tab context. The browser
// process itself starts lazily on the first Run call.
func NewSession(cfg *config.ScraperConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	return &Session{
		cfg:       cfg,
		logger:    logger,
		ctx:       tabCtx,
		cancelCtx: cancelTab,
		cancelAll: cancelAlloc,
	}
}

// run executes browser actions after routing downloads to the configured
// directory.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
		defer cancel()
	}

	all := append([]chromedp.Action{
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(s.cfg.DownloadDir),
	}, actions...)

	return chromedp.Run(runCtx, all...)
}

// Close tears down the browser tab and process. Safe to call more than
// once and safe after a failed Run.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Info("closing browser session")
		s.cancelCtx()
		s.cancelAll()
	})
}
