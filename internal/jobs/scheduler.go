package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/price-tracker/internal/metrics"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/ratelimit"
)

var (
	ErrCycleRunning = errors.New("refresh cycle already running")
	ErrLeaseLost    = errors.New("refresh cycle lease lost")
)

// Store is the slice of item storage a refresh cycle needs.
type Store interface {
	FindAll(ctx context.Context) ([]models.TrackedItem, error)
	ApplyRefresh(ctx context.Context, upd models.RefreshUpdate) error
}

type Refresher interface {
	Refresh(ctx context.Context, item models.TrackedItem) (models.RefreshResult, error)
}

// Notifier evaluates a fresh result and returns the watermark to persist.
type Notifier interface {
	Process(ctx context.Context, item models.TrackedItem, res models.RefreshResult) (*int64, error)
}

// Lease guards a cycle across replicas. Acquire reports false when another
// holder owns it; Renew reports false once the lease is no longer ours.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Options struct {
	Interval     time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	ItemDelay    time.Duration
	ItemJitter   time.Duration
	RunOnStart   bool
}

func DefaultOptions() Options {
	return Options{
		Interval:     2 * time.Minute,
		MaxAttempts:  3,
		RetryBackoff: 10 * time.Second,
		ItemDelay:    5 * time.Second,
		RunOnStart:   true,
	}
}

// CycleReport summarizes one refresh cycle.
type CycleReport struct {
	ID        string        `json:"id"`
	Total     int           `json:"total"`
	Refreshed int           `json:"refreshed"`
	Failed    int           `json:"failed"`
	FailedIDs []int64       `json:"failed_ids,omitempty"`
	Attempts  int           `json:"attempts"`
	Waves     int           `json:"waves"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler refreshes every tracked item on a fixed interval.
type Scheduler struct {
	store     Store
	refresher Refresher
	notifier  Notifier
	sleeper   ratelimit.Sleeper
	throttle  *ratelimit.Throttle
	lease     Lease
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options

	running atomic.Bool
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

func WithLease(l Lease) Option {
	return func(s *Scheduler) { s.lease = l }
}

func WithSleeper(sl ratelimit.Sleeper) Option {
	return func(s *Scheduler) { s.sleeper = sl }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func NewScheduler(store Store, refresher Refresher, notifier Notifier, opts Options, logger *slog.Logger, options ...Option) *Scheduler {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:     store,
		refresher: refresher,
		notifier:  notifier,
		sleeper:   ratelimit.ContextSleeper{},
		logger:    logger.With("component", "scheduler"),
		opts:      opts,
	}
	for _, o := range options {
		o(s)
	}
	s.throttle = ratelimit.NewThrottle(opts.ItemDelay, opts.ItemDelay+opts.ItemJitter, s.sleeper)
	return s
}

// Start runs cycles until ctx ends. Each tick starts a cycle in the
// background; a tick that finds one still running is skipped. Start returns
// after the in-flight cycle has observed the cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started",
		"interval", s.opts.Interval,
		"max_attempts", s.opts.MaxAttempts)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	if s.opts.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.running.Load() {
		s.logger.Warn("previous refresh cycle still running, skipping tick")
		s.metrics.CycleSkipped()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleRunning) {
			s.logger.Error("refresh cycle aborted", "error", err)
		}
	}()
}

// Running reports whether a cycle is in progress in this process.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunCycle refreshes every stored item in waves. Items that fail are retried
// in later waves, in the order they failed, until MaxAttempts is reached.
// Storage errors abort the cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.CycleSkipped()
		return CycleReport{}, ErrCycleRunning
	}
	defer s.running.Store(false)

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			s.metrics.CycleFailed()
			return CycleReport{}, fmt.Errorf("failed to acquire cycle lease: %w", err)
		}
		if !ok {
			s.logger.Info("refresh cycle held by another replica, skipping")
			s.metrics.CycleSkipped()
			return CycleReport{}, ErrCycleRunning
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.lease.Release(releaseCtx); err != nil {
				s.logger.Warn("failed to release cycle lease", "error", err)
			}
		}()
	}

	report := CycleReport{ID: uuid.NewString()}
	log := s.logger.With("cycle_id", report.ID)
	start := time.Now()

	report, err := s.runWaves(ctx, log, report)
	report.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, ErrLeaseLost) {
			s.metrics.LeaseLost()
		}
		s.metrics.CycleFailed()
		log.Error("refresh cycle stopped",
			"refreshed", report.Refreshed,
			"duration", report.Duration,
			"error", err)
		return report, err
	}

	if report.Failed > 0 {
		log.Error("items could not be refreshed",
			"count", report.Failed,
			"item_ids", report.FailedIDs,
			"max_attempts", s.opts.MaxAttempts)
	}

	s.metrics.CycleCompleted(report.Duration, report.Refreshed, report.Failed)
	log.Info("refresh cycle finished",
		"total", report.Total,
		"refreshed", report.Refreshed,
		"failed", report.Failed,
		"attempts", report.Attempts,
		"duration", report.Duration)
	return report, nil
}

func (s *Scheduler) runWaves(ctx context.Context, log *slog.Logger, report CycleReport) (CycleReport, error) {
	pending, err := s.store.FindAll(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load tracked items: %w", err)
	}
	report.Total = len(pending)
	log.Info("refresh cycle started", "items", report.Total)

	for attempt := 1; len(pending) > 0 && attempt <= s.opts.MaxAttempts; attempt++ {
		report.Waves = attempt
		if attempt > 1 {
			log.Info("retrying failed items", "attempt", attempt, "items", len(pending))
			if err := s.sleeper.Sleep(ctx, s.opts.RetryBackoff); err != nil {
				return report, err
			}
		}

		var failed []models.TrackedItem
		for _, item := range pending {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := s.keepLease(ctx); err != nil {
				return report, err
			}
			report.Attempts++

			res, err := s.refresher.Refresh(ctx, item)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				log.Warn("item refresh failed",
					"item_id", item.ID,
					"article", item.ArticleID,
					"attempt", attempt,
					"error", err)
				failed = append(failed, item)
				continue
			}

			if err := s.apply(ctx, item, res); err != nil {
				return report, err
			}
			report.Refreshed++

			if err := s.throttle.Pause(ctx); err != nil {
				return report, err
			}
		}
		pending = failed
	}

	report.Failed = len(pending)
	for _, item := range pending {
		report.FailedIDs = append(report.FailedIDs, item.ID)
	}
	return report, nil
}

// keepLease extends the cycle lease before the next item. Another replica
// may already be refreshing once it is lost, so the cycle has to stop.
func (s *Scheduler) keepLease(ctx context.Context) error {
	if s.lease == nil {
		return nil
	}
	ok, err := s.lease.Renew(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLeaseLost, err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

func (s *Scheduler) apply(ctx context.Context, item models.TrackedItem, res models.RefreshResult) error {
	upd := models.RefreshUpdate{
		ItemID:     item.ID,
		Result:     res,
		LastPrice:  item.CurrentPrice,
		TargetSeen: models.ClonePrice(item.TargetPrice),
	}

	if s.notifier != nil {
		wm, err := s.notifier.Process(ctx, item, res)
		if err != nil {
			return err
		}
		upd.Watermark = wm
	}

	err := s.store.ApplyRefresh(ctx, upd)
	if errors.Is(err, models.ErrItemNotFound) {
		s.logger.Info("item removed during refresh, result dropped", "item_id", item.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to save refresh of item %d: %w", item.ID, err)
	}
	return nil
}
