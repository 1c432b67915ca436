package peerconn

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"BusinessServer/config"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffDelay(t *testing.T) {
	cfg := config.PeerConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextBackoffDelay(cfg, tt.attempt, nil), "attempt %d", tt.attempt)
	}
}

func TestNextBackoffDelayJitter(t *testing.T) {
	cfg := config.PeerConfig{InitialBackoff: 100 * time.Millisecond, BackoffMultiplier: 2}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := nextBackoffDelay(cfg, 1, rng)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}

func TestNextBackoffDelayZeroInitial(t *testing.T) {
	assert.Zero(t, nextBackoffDelay(config.PeerConfig{}, 3, nil))
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
