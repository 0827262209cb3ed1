package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bitpredict/engine/internal/domain"
)

// LockManager is a mutex-backed single-process lock manager for dev mode.
// Unlike the Redis lock manager it offers no cross-instance exclusion and
// ignores the TTL; locks are released only by the returned unlock func.
type LockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockManager creates an empty in-process lock manager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]bool)}
}

// Acquire takes the named lock or fails with ErrLockHeld if it is taken.
func (l *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("memory: lock %q: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// RateLimiter is a sliding-window limiter over in-process timestamps.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewRateLimiter creates an empty in-process rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{events: make(map[string][]time.Time)}
}

// Allow records an event for key and reports whether the count within the
// window stays at or under limit.
func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-window)
	kept := r.events[key][:0]
	for _, t := range r.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.events[key] = kept
	return len(kept) <= limit, nil
}

// Wait blocks until the context is done or immediately returns; the dev
// limiter never queues.
func (r *RateLimiter) Wait(_ context.Context, _ string) error {
	return nil
}

// SignalBus is a channel-and-slice bus for dev mode. Published payloads fan
// out to live subscribers; stream appends accumulate in ordered slices.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	nextID  uint64
}

// NewSignalBus creates an empty in-process signal bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every subscriber of channel. Slow subscribers
// with full buffers are skipped rather than blocked on.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered subscription to channel. The subscription
// lives until the bus is garbage collected; dev mode never unsubscribes.
func (b *SignalBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 64)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

// StreamAppend appends payload to the named stream with a monotonic ID.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.nextID, 10),
		Payload: payload,
	})
	return nil
}

// StreamRead returns up to count messages with IDs strictly after lastID.
// The sentinel lastID "0" reads from the beginning.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after, _ := strconv.ParseUint(lastID, 10, 64)
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		id, _ := strconv.ParseUint(msg.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// MarketCache is a map-backed market cache for dev mode.
type MarketCache struct {
	mu      sync.RWMutex
	markets map[uint64]domain.Market
}

// NewMarketCache creates an empty in-process market cache.
func NewMarketCache() *MarketCache {
	return &MarketCache{markets: make(map[uint64]domain.Market)}
}

func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.MarketKey] = m
	return nil
}

func (c *MarketCache) Get(_ context.Context, marketKey uint64) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[marketKey]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: cached market %d: %w", marketKey, domain.ErrNotFound)
	}
	return m, nil
}

func (c *MarketCache) Invalidate(_ context.Context, marketKey uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, marketKey)
	return nil
}

// QuestCache is a map-backed quest cache for dev mode.
type QuestCache struct {
	mu     sync.RWMutex
	quests map[uint64]domain.Quest
}

// NewQuestCache creates an empty in-process quest cache.
func NewQuestCache() *QuestCache {
	return &QuestCache{quests: make(map[uint64]domain.Quest)}
}

func (c *QuestCache) Set(_ context.Context, q domain.Quest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quests[q.QuestKey] = q
	return nil
}

func (c *QuestCache) Get(_ context.Context, questKey uint64) (domain.Quest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quests[questKey]
	if !ok {
		return domain.Quest{}, fmt.Errorf("memory: cached quest %d: %w", questKey, domain.ErrNotFound)
	}
	return q, nil
}

func (c *QuestCache) Invalidate(_ context.Context, questKey uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.quests, questKey)
	return nil
}
