package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// waitPollInterval is how often Wait retries a saturated key.
const waitPollInterval = 50 * time.Millisecond

// RateLimiter throttles per-caller operation rates, for example bet placement
// on a hot market, with a sliding window kept in a Redis sorted set. The
// window check and the count increment happen atomically in one Lua call.
type RateLimiter struct {
	rdb    *redis.Client
	window *redis.Script
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.rdb,
		window: redis.NewScript(slidingWindowLua),
	}
}

// Allow reports whether one more request for key fits under limit requests
// per window. An allowed request is counted immediately.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()

	res, err := rl.window.Run(ctx, rl.rdb,
		[]string{"ratelimit:" + key},
		now, window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until key admits another request at one request per second, or
// until ctx is cancelled. Callers needing a different rate should loop over
// Allow themselves.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
