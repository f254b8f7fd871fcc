package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	ErrLaunch            = errors.New("browser launch failed")
	ErrNavigationTimeout = errors.New("navigation timed out")
)

// stealthScript runs before any page script and hides the most common
// automation markers.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['ru-RU', 'ru', 'en-US', 'en'] });
window.chrome = window.chrome || { runtime: {} };
`

// Session is one disposable browser: a driver process, a browser, a context
// and a single page. It must be closed by whoever launched it.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Settle(ctx context.Context, delay time.Duration) error
	Content() (string, error)
	Screenshot(path string) error
	Close() error
}

// Launcher starts a fresh Session per call.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

type Options struct {
	Headless          bool
	NavigationTimeout time.Duration
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	TimezoneID        string
	Locale            string
	ProxyServer       string
	ExtraHeaders      map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		NavigationTimeout: 90 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		TimezoneID:        "Europe/Moscow",
		Locale:            "ru-RU",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
			"DNT":             "1",
		},
	}
}

// PlaywrightLauncher launches Chromium through playwright-go.
type PlaywrightLauncher struct {
	opts   *Options
	logger *slog.Logger
}

func NewLauncher(opts *Options, logger *slog.Logger) *PlaywrightLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaywrightLauncher{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := l.opts
	s := &PlaywrightSession{
		timeout: opts.NavigationTimeout,
		logger:  l.logger,
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start playwright: %v", ErrLaunch, err)
	}
	s.pw = pw

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	s.browser, err = pw.Chromium.Launch(launchOpts)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to launch chromium: %v", ErrLaunch, err)
	}

	s.context, err = s.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create browser context: %v", ErrLaunch, err)
	}

	if err := s.context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to install init script: %v", ErrLaunch, err)
	}

	s.page, err = s.context.NewPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: failed to create page: %v", ErrLaunch, err)
	}
	s.page.SetDefaultTimeout(float64(opts.NavigationTimeout.Milliseconds()))

	return s, nil
}

// PlaywrightSession owns every playwright resource of one extraction.
type PlaywrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Navigate loads url and waits for DOMContentLoaded. A cancelled ctx returns
// immediately; the pending navigation dies with the session on Close.
func (s *PlaywrightSession) Navigate(ctx context.Context, url string) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
		})
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w after %s: %v", ErrNavigationTimeout, s.timeout, err)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
}

// Settle waits for client-side rendering, nudging the page like a reader
// would so lazy blocks load.
func (s *PlaywrightSession) Settle(ctx context.Context, delay time.Duration) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		if err := s.page.Mouse().Move(x, y); err != nil {
			s.logger.Debug("mouse move failed", "error", err)
		}
	}
	if _, err := s.page.Evaluate(`window.scrollBy(0, 400)`); err != nil {
		s.logger.Debug("scroll failed", "error", err)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *PlaywrightSession) Content() (string, error) {
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (s *PlaywrightSession) Screenshot(path string) error {
	if s.page == nil {
		return errors.New("no page to capture")
	}
	if _, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	}); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return nil
}

// Close tears down the context (and its page), browser and driver. Only the
// first call does any work.
func (s *PlaywrightSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.context != nil {
			if err := s.context.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close context: %w", err))
			}
		}

		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
			}
		}

		if s.pw != nil {
			if err := s.pw.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
			}
		}

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
