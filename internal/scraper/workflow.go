package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/rmacedo/reportflow/internal/config"
)

// Portal selectors. The portal is an old server-rendered app; these have
// been stable across releases.
const (
	selUsername     = `input[name="username"]`
	selPassword     = `input[name="password"]`
	selLoginSubmit  = `button[type="submit"]`
	selLoginError   = `.login-error, .alert-danger`
	selReportExport = `#btn-export, a[href*="export"]`
)

// Outcome is the extraction result handed back to the orchestrator.
// Success implies ArtifactPath points at the downloaded spreadsheet.
type Outcome struct {
	Success      bool
	ArtifactPath string
}

// Workflow drives one full extraction: log in, open the report view,
// trigger the export and wait for the file to land.
type Workflow struct {
	cfg     *config.ScraperConfig
	session *Session
	logger  *zap.Logger
}

// NewWorkflow binds a workflow to an open session.
func NewWorkflow(cfg *config.ScraperConfig, session *Session, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{cfg: cfg, session: session, logger: logger}
}

// Execute runs the scrape. A routine failure (bad login, export button
// missing, download never landing) comes back as Outcome{Success: false}
// with a nil error; the error return is reserved for browser-level faults.
func (w *Workflow) Execute(ctx context.Context) (Outcome, error) {
	start := time.Now()

	if err := w.login(ctx); err != nil {
		return Outcome{}, fmt.Errorf("portal login: %w", err)
	}

	loggedIn, reason, err := w.verifyLogin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("verifying login: %w", err)
	}
	if !loggedIn {
		w.logger.Error("portal rejected credentials", zap.String("reason", reason))
		return Outcome{Success: false}, nil
	}

	if err := w.triggerExport(ctx); err != nil {
		w.logger.Error("export trigger failed", zap.Error(err))
		return Outcome{Success: false}, nil
	}

	downloadCtx, cancel := context.WithTimeout(ctx, w.cfg.DownloadTimeout)
	defer cancel()

	path, err := WaitForDownload(downloadCtx, w.cfg.DownloadDir, w.cfg.ReportPrefix, start)
	if err != nil {
		w.logger.Error("report download did not complete", zap.Error(err))
		return Outcome{Success: false}, nil
	}

	w.logger.Info("report downloaded",
		zap.String("path", path),
		zap.Duration("elapsed", time.Since(start)))
	return Outcome{Success: true, ArtifactPath: path}, nil
}

func (w *Workflow) login(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, w.cfg.NavigateTimeout)
	defer cancel()

	return w.session.run(navCtx,
		chromedp.Navigate(w.cfg.PortalURL),
		chromedp.WaitReady("body"),
		chromedp.SendKeys(selUsername, w.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(selPassword, w.cfg.Password, chromedp.ByQuery),
		chromedp.Click(selLoginSubmit, chromedp.ByQuery),
		chromedp.WaitReady("body"),
	)
}

// verifyLogin inspects the rendered page for a rejection banner.
func (w *Workflow) verifyLogin(ctx context.Context) (bool, string, error) {
	navCtx, cancel := context.WithTimeout(ctx, w.cfg.NavigateTimeout)
	defer cancel()

	var html string
	if err := w.session.run(navCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return false, "", err
	}

	ok, reason := inspectLoginPage(html)
	return ok, reason, nil
}

func (w *Workflow) triggerExport(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, w.cfg.NavigateTimeout)
	defer cancel()

	return w.session.run(navCtx,
		chromedp.WaitVisible(selReportExport, chromedp.ByQuery),
		chromedp.Click(selReportExport, chromedp.ByQuery),
	)
}

// inspectLoginPage decides from the post-login HTML whether the session is
// authenticated. Returns the banner text when it is not.
func inspectLoginPage(html string) (bool, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// Unparseable page; treat as logged in and let the export step fail.
		return true, ""
	}

	banner := strings.TrimSpace(doc.Find(selLoginError).First().Text())
	if banner != "" {
		return false, banner
	}
	// A login form still present after submit means the redirect never happened.
	if doc.Find(selPassword).Length() > 0 {
		return false, "login form still present"
	}
	return true, ""
}
