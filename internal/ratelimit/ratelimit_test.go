package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingSleeper struct {
	slept []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return ctx.Err()
}

func TestContextSleeperHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := ContextSleeper{}.Sleep(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestContextSleeperWaits(t *testing.T) {
	start := time.Now()
	err := ContextSleeper{}.Sleep(context.Background(), 20*time.Millisecond)

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestThrottleFixedDelay(t *testing.T) {
	s := &recordingSleeper{}
	th := NewThrottle(5*time.Second, 5*time.Second, s)

	assert.NoError(t, th.Pause(context.Background()))
	assert.NoError(t, th.Pause(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, s.slept)
}

func TestThrottleJitterWithinBounds(t *testing.T) {
	s := &recordingSleeper{}
	th := NewThrottle(2*time.Second, 4*time.Second, s)

	for i := 0; i < 50; i++ {
		_ = th.Pause(context.Background())
	}
	for _, d := range s.slept {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 4*time.Second)
	}
}
