package extractor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/marketplace"
	"github.com/maltedev/price-tracker/internal/models"
)

type Options struct {
	// SettleDelay is how long the page is given to finish client-side
	// rendering after DOMContentLoaded.
	SettleDelay time.Duration
	// ScreenshotPath is overwritten with a full-page capture on failure.
	ScreenshotPath string
}

func DefaultOptions() Options {
	return Options{
		SettleDelay:    5 * time.Second,
		ScreenshotPath: "/app/wb_debug.png",
	}
}

// Extractor renders one listing per call in a fresh browser session.
type Extractor struct {
	launcher browser.Launcher
	opts     Options
	logger   *slog.Logger
}

func New(launcher browser.Launcher, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		launcher: launcher,
		opts:     opts,
		logger:   logger.With("component", "extractor"),
	}
}

// Extract resolves the article in input, renders its listing page and reads
// name, prices and image. The browser session is closed on every path.
func (e *Extractor) Extract(ctx context.Context, m *marketplace.Marketplace, input string) (models.RefreshResult, error) {
	article, err := m.ParseArticle(input)
	if err != nil {
		return models.RefreshResult{}, &ExtractionError{Kind: ErrArticleNotFound, Marketplace: m.Name, Err: err}
	}

	fail := func(kind, cause error) error {
		return &ExtractionError{Kind: kind, Marketplace: m.Name, Article: article, Err: cause}
	}

	session, err := e.launcher.Launch(ctx)
	if err != nil {
		return models.RefreshResult{}, fail(ErrBrowserLaunch, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			e.logger.Warn("failed to close browser session", "article", article, "error", err)
		}
	}()

	url := m.ListingURL(article)
	e.logger.Debug("navigating", "marketplace", m.Name, "article", article, "url", url)

	if err := session.Navigate(ctx, url); err != nil {
		if ctx.Err() != nil {
			return models.RefreshResult{}, fail(ErrNavigationFailed, err)
		}
		e.captureScreenshot(session, article)
		if errors.Is(err, browser.ErrNavigationTimeout) {
			return models.RefreshResult{}, fail(ErrNavigationTimeout, err)
		}
		return models.RefreshResult{}, fail(ErrNavigationFailed, err)
	}

	if err := session.Settle(ctx, e.opts.SettleDelay); err != nil {
		return models.RefreshResult{}, fail(ErrNavigationFailed, err)
	}

	html, err := session.Content()
	if err != nil {
		e.captureScreenshot(session, article)
		return models.RefreshResult{}, fail(ErrNavigationFailed, err)
	}

	fields, err := m.Fields.Extract(html)
	if err != nil {
		e.captureScreenshot(session, article)
		return models.RefreshResult{}, fail(ErrNavigationFailed, err)
	}

	if fields.Name == "" || fields.Price == 0 {
		e.logger.Warn("listing rendered without required fields",
			"article", article,
			"name_found", fields.Name != "",
			"price", fields.Price)
		e.captureScreenshot(session, article)
		return models.RefreshResult{}, fail(ErrEmptyFields, nil)
	}

	return models.RefreshResult{
		Marketplace:   m.Name,
		ArticleID:     article,
		DisplayName:   fields.Name,
		CurrentPrice:  fields.Price,
		PreviousPrice: fields.PreviousPrice,
		ImageURL:      fields.ImageURL,
	}, nil
}

func (e *Extractor) captureScreenshot(session browser.Session, article string) {
	if e.opts.ScreenshotPath == "" {
		return
	}
	if err := session.Screenshot(e.opts.ScreenshotPath); err != nil {
		e.logger.Warn("failed to capture diagnostic screenshot", "article", article, "error", err)
		return
	}
	e.logger.Info("diagnostic screenshot saved", "article", article, "path", e.opts.ScreenshotPath)
}
