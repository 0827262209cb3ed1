package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, marketKey uint64) (Market, error)
	Invalidate(ctx context.Context, marketKey uint64) error
}

// QuestCache provides fast quest lookups.
type QuestCache interface {
	Set(ctx context.Context, quest Quest) error
	Get(ctx context.Context, questKey uint64) (Quest, error)
	Invalidate(ctx context.Context, questKey uint64) error
}

// LockManager provides distributed per-object locking. Every mutating
// operation on a market, quest, or voter-checkpoint object runs under that
// object's lock so same-key operations serialize across instances.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles per-key operation rates across instances.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
