package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLua deletes the lock key only when its value still matches the
// holder's token, so a holder whose TTL expired cannot release a lock that
// has since been granted to someone else.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the unlock round trip when the caller's context is
// already gone.
const releaseTimeout = 5 * time.Second

// LockManager serializes mutating operations on a market, quest, or voter
// object across engine instances. It implements domain.LockManager with
// SET NX plus a token-checked Lua release.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		release: redis.NewScript(releaseLua),
	}
}

// Acquire takes the lock for key with the given TTL and returns an idempotent
// unlock function. It returns domain.ErrLockHeld when another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	slot := "lock:" + key

	ok, err := lm.rdb.SetNX(ctx, slot, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Release must work even after the operation's context is
			// cancelled, otherwise the key stays taken until the TTL runs out.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{slot}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
