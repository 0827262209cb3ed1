package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitpredict/engine/internal/domain"
)

const questTTL = 5 * time.Minute

// QuestCache implements domain.QuestCache using the same hash-with-JSON
// layout as MarketCache under "quest:{key}" keys.
type QuestCache struct {
	rdb *redis.Client
}

// NewQuestCache creates a QuestCache backed by the given Client.
func NewQuestCache(c *Client) *QuestCache {
	return &QuestCache{rdb: c.rdb}
}

func questKey(key uint64) string {
	return "quest:" + strconv.FormatUint(key, 10)
}

// Set stores a Quest in the cache with a 5-minute TTL.
func (qc *QuestCache) Set(ctx context.Context, quest domain.Quest) error {
	data, err := json.Marshal(quest)
	if err != nil {
		return fmt.Errorf("redis: marshal quest %d: %w", quest.QuestKey, err)
	}

	key := questKey(quest.QuestKey)

	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, questTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quest %d: %w", quest.QuestKey, err)
	}
	return nil
}

// Get retrieves a Quest by its key from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (qc *QuestCache) Get(ctx context.Context, key uint64) (domain.Quest, error) {
	data, err := qc.rdb.HGet(ctx, questKey(key), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Quest{}, domain.ErrNotFound
		}
		return domain.Quest{}, fmt.Errorf("redis: get quest %d: %w", key, err)
	}

	var quest domain.Quest
	if err := json.Unmarshal(data, &quest); err != nil {
		return domain.Quest{}, fmt.Errorf("redis: unmarshal quest %d: %w", key, err)
	}
	return quest, nil
}

// Invalidate removes a Quest from the cache.
func (qc *QuestCache) Invalidate(ctx context.Context, key uint64) error {
	if err := qc.rdb.Del(ctx, questKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate quest %d: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuestCache = (*QuestCache)(nil)
