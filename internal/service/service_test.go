package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bitpredict/engine/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock drives market and governance engines deterministically. The slot
// advances one per second of wall time.
type fakeClock struct {
	now  time.Time
	slot uint64
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), slot: 1000}
}

func (c *fakeClock) Now() (time.Time, uint64) { return c.now, c.slot }

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
	c.slot += uint64(d / time.Second)
}

// fakeAuth accepts every signature unless failing is set, so tests exercise
// the service flow without real key material.
type fakeAuth struct {
	failing bool
}

func (a *fakeAuth) Verify(principal string, message, signature []byte) (bool, error) {
	return !a.failing, nil
}

// fakeLocks hands out process-local locks with the LockManager contract.
type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// fakeLimiter counts Allow calls per key and rejects past the configured
// limit, ignoring the window.
type fakeLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{counts: make(map[string]int)}
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return f.counts[key] <= limit, nil
}

func (f *fakeLimiter) Wait(context.Context, string) error { return nil }

// fakeBus records published payloads and stream appends.
type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
	}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, stream string, _ string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, p := range b.streams[stream] {
		out = append(out, domain.StreamMessage{Payload: p})
	}
	return out, nil
}

func (b *fakeBus) publishedCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

// nopMarketCache always misses so service reads hit the store.
type nopMarketCache struct{}

func (nopMarketCache) Set(context.Context, domain.Market) error { return nil }

func (nopMarketCache) Get(context.Context, uint64) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (nopMarketCache) Invalidate(context.Context, uint64) error { return nil }

// nopQuestCache always misses so service reads hit the store.
type nopQuestCache struct{}

func (nopQuestCache) Set(context.Context, domain.Quest) error { return nil }

func (nopQuestCache) Get(context.Context, uint64) (domain.Quest, error) {
	return domain.Quest{}, domain.ErrNotFound
}

func (nopQuestCache) Invalidate(context.Context, uint64) error { return nil }

// fakeAttestor returns a fixed verified-NFT count per owner, truncated to
// the inspection limit.
type fakeAttestor struct {
	counts map[string]int
}

func (a *fakeAttestor) VerifiedCount(_ context.Context, owner, _ string, max int) (int, error) {
	n := a.counts[owner]
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// asCaller wraps a principal as an authenticated caller; the fake
// authenticator ignores message and signature.
func asCaller(principal string) Caller {
	return Caller{Principal: principal, Message: []byte("op"), Signature: []byte("sig")}
}
