package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/api"
	"github.com/maltedev/price-tracker/internal/browser"
	"github.com/maltedev/price-tracker/internal/config"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/events"
	"github.com/maltedev/price-tracker/internal/extractor"
	"github.com/maltedev/price-tracker/internal/items"
	"github.com/maltedev/price-tracker/internal/jobs"
	"github.com/maltedev/price-tracker/internal/marketplace"
	"github.com/maltedev/price-tracker/internal/metrics"
	"github.com/maltedev/price-tracker/internal/notify"
	"github.com/maltedev/price-tracker/internal/refresh"
	"github.com/maltedev/price-tracker/internal/storage"
)

type userStore interface {
	items.UserStore
	notify.OwnerFinder
}

// backend is the storage a run is wired against.
type backend struct {
	items  items.Store
	users  userStore
	cycle  jobs.Store
	checks map[string]api.HealthCheck
	close  func()
}

func main() {
	once := flag.Bool("once", false, "run a single refresh cycle and exit")
	flag.Parse()

	config.LoadEnv(nil)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
	}

	store, relay, err := openBackend(ctx, cfg, redisClient, m, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer store.close()

	registry := marketplace.Default()

	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.NavigationTimeout = cfg.Browser.NavigationTimeout
	browserOpts.Locale = cfg.Browser.Locale
	browserOpts.TimezoneID = cfg.Browser.TimezoneID
	browserOpts.ProxyServer = cfg.Browser.ProxyServer

	ex := extractor.New(browser.NewLauncher(browserOpts, logger), extractor.Options{
		SettleDelay:    cfg.Browser.SettleDelay,
		ScreenshotPath: cfg.Browser.ScreenshotPath,
	}, logger)
	protocol := refresh.New(ex, registry, m, logger)

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.Telegram.BotToken != "" {
		opts := notify.DefaultTelegramOptions(cfg.Telegram.BotToken)
		opts.BaseURL = cfg.Telegram.BaseURL
		opts.Timeout = cfg.Telegram.Timeout
		tg, err := notify.NewTelegramSink(opts, logger)
		if err != nil {
			logger.Error("failed to set up telegram", "error", err)
			os.Exit(1)
		}
		sink = tg
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, alerts are only logged")
	}
	trigger := notify.NewTrigger(store.users, sink, registry, m, logger)

	schedOpts := []jobs.Option{jobs.WithMetrics(m)}
	if redisClient != nil {
		schedOpts = append(schedOpts, jobs.WithLease(jobs.NewRedisLease(redisClient, cfg.Redis.LeaseKey, cfg.Redis.LeaseTTL)))
	}
	scheduler := jobs.NewScheduler(store.cycle, protocol, trigger, jobs.Options{
		Interval:     cfg.Scheduler.Interval,
		MaxAttempts:  cfg.Scheduler.MaxAttempts,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
		ItemDelay:    cfg.Scheduler.ItemDelay,
		ItemJitter:   cfg.Scheduler.ItemJitter,
		RunOnStart:   cfg.Scheduler.RunOnStart,
	}, logger, schedOpts...)

	if *once {
		report, err := scheduler.RunCycle(ctx)
		if err != nil {
			logger.Error("refresh cycle failed", "error", err)
			os.Exit(1)
		}
		_ = json.NewEncoder(os.Stdout).Encode(report)
		return
	}

	if relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()

	svc := items.NewService(store.items, store.users, protocol, logger)
	handlers := api.NewHandlers(svc, cfg.Auth.JWTSecret, logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        m.Handler(),
		Checks:         store.checks,
		RequestTimeout: cfg.Browser.NavigationTimeout + cfg.Browser.SettleDelay + 30*time.Second,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Browser.NavigationTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port, "store", cfg.Store.Driver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-schedulerDone
	logger.Info("server stopped")
}

func openBackend(ctx context.Context, cfg *config.Config, redisClient *redis.Client, m *metrics.Metrics, logger *slog.Logger) (*backend, *database.Relay, error) {
	if cfg.Store.Driver == config.StoreDriverFile {
		fs, err := storage.NewFileStore(cfg.Store.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return &backend{items: fs, users: fs, cycle: fs, close: func() {}}, nil, nil
	}

	db, err := database.New(ctx, database.Config{
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	itemRepo := database.NewItemRepository(db)
	b := &backend{
		items:  itemRepo,
		users:  database.NewUserRepository(db),
		cycle:  itemRepo,
		checks: map[string]api.HealthCheck{"database": db.Ping},
		close:  db.Close,
	}

	// Price events are only recorded when something relays them.
	if redisClient == nil {
		return b, nil, nil
	}
	b.cycle = events.NewStore(db, logger)
	b.checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	relay := database.NewRelay(database.NewOutboxRepository(db), redisClient, m, logger, database.RelayConfig{
		PollInterval: cfg.Relay.PollInterval,
		BatchSize:    cfg.Relay.BatchSize,
		StreamMaxLen: cfg.Relay.StreamMaxLen,
	})
	return b, relay, nil
}
