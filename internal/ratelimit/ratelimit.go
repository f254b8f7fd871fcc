package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Sleeper blocks for a duration unless ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ContextSleeper is the real-clock Sleeper.
type ContextSleeper struct{}

func (ContextSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Throttle spaces consecutive requests to the same marketplace. Each Pause
// waits between minDelay and maxDelay.
type Throttle struct {
	minDelay time.Duration
	maxDelay time.Duration
	sleeper  Sleeper
	mu       sync.Mutex
	rnd      *rand.Rand
}

func NewThrottle(minDelay, maxDelay time.Duration, sleeper Sleeper) *Throttle {
	if sleeper == nil {
		sleeper = ContextSleeper{}
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Throttle{
		minDelay: minDelay,
		maxDelay: maxDelay,
		sleeper:  sleeper,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (t *Throttle) Pause(ctx context.Context) error {
	return t.sleeper.Sleep(ctx, t.delay())
}

func (t *Throttle) delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxDelay <= t.minDelay {
		return t.minDelay
	}
	delta := t.maxDelay - t.minDelay
	return t.minDelay + time.Duration(t.rnd.Int63n(int64(delta)))
}
