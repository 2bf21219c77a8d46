package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens       float64
	lastRefillAt time.Time
}

// TokenBucket is an in-process Limiter. State is not durable; losing it on
// restart only briefly over-admits, it is not a correctness mechanism.
type TokenBucket struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time
}

func NewTokenBucket(cfg Config) *TokenBucket {
	return &TokenBucket{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (t *TokenBucket) Allow(_ context.Context, key string, cost float64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{tokens: t.cfg.Capacity, lastRefillAt: now}
		t.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefillAt).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * t.cfg.Rate
		if b.tokens > t.cfg.Capacity {
			b.tokens = t.cfg.Capacity
		}
		b.lastRefillAt = now
	}

	if b.tokens < cost {
		return false, nil
	}
	b.tokens -= cost
	return true, nil
}
