package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		rps       float64
		burst     int
		wantNil   bool
		wantBurst int
	}{
		{name: "disabled", rps: 0, burst: 10, wantNil: true},
		{name: "negative disabled", rps: -1, burst: 10, wantNil: true},
		{name: "explicit burst", rps: 5, burst: 10, wantBurst: 10},
		{name: "zero burst defaults to one", rps: 5, burst: 0, wantBurst: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(tt.rps, tt.burst)
			if tt.wantNil {
				assert.Nil(t, rl)
				assert.Zero(t, rl.Limit())
				assert.Zero(t, rl.Burst())
				return
			}
			require.NotNil(t, rl)
			assert.Equal(t, tt.rps, rl.Limit())
			assert.Equal(t, tt.wantBurst, rl.Burst())
		})
	}
}

func TestNilLimiterNeverThrottles(t *testing.T) {
	var rl *RateLimiter
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow())
		assert.NoError(t, rl.Wait(context.Background()))
	}
}

func TestAllow(t *testing.T) {
	rl := New(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(), "request %d within burst", i)
	}
	assert.False(t, rl.Allow(), "burst exhausted")
}

func TestWait(t *testing.T) {
	rl := New(100, 1)
	require.True(t, rl.Allow())

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestWaitContextCancellation(t *testing.T) {
	rl := New(0.1, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rl.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
