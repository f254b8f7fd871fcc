package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/extractor"
	"github.com/maltedev/price-tracker/internal/marketplace"
	"github.com/maltedev/price-tracker/internal/refresh"
)

// extract renders one listing the way the scheduler does and prints the
// result as JSON. Useful when a marketplace changes its markup.
func main() {
	defaults := config.Default().Browser
	var (
		headful    = flag.Bool("headful", false, "show the browser window")
		settle     = flag.Duration("settle", defaults.SettleDelay, "delay after DOMContentLoaded")
		timeout    = flag.Duration("timeout", defaults.NavigationTimeout, "navigation timeout")
		screenshot = flag.String("screenshot", "debug.png", "screenshot written on failure")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: extract [flags] <url or article>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	input := flag.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := browser.DefaultOptions()
	opts.Headless = !*headful
	opts.NavigationTimeout = *timeout

	ex := extractor.New(browser.NewLauncher(opts, logger), extractor.Options{
		SettleDelay:    *settle,
		ScreenshotPath: *screenshot,
	}, logger)

	start := time.Now()
	res, err := refresh.New(ex, marketplace.Default(), nil, logger).RefreshInput(ctx, input)
	if err != nil {
		logger.Error("extraction failed",
			"outcome", extractor.Outcome(err),
			"duration", time.Since(start),
			"error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error("failed to write result", "error", err)
		os.Exit(1)
	}
}
