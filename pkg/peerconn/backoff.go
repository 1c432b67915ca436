package peerconn

import (
	"context"
	"math"
	"math/rand"
	"time"

	"BusinessServer/config"
)

// nextBackoffDelay 返回第 attempt 次重试（从 1 开始）前的等待时间，带 [0.5,1.5) 抖动。
func nextBackoffDelay(cfg config.PeerConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialBackoff <= 0 {
		return 0
	}
	mult := cfg.BackoffMultiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(cfg.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxBackoff > 0 && delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}
	f := 1.0
	if rng != nil {
		f = 0.5 + rng.Float64()
	}
	return time.Duration(delay * f)
}

// sleepCtx 等待 d，ctx 取消时提前返回错误
func sleepCtx(ctx context.Context, d time.Duration) error {
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
