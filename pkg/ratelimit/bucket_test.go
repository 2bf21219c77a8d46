package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(cfg Config) (*TokenBucket, *time.Time) {
	tb := NewTokenBucket(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tb.now = func() time.Time { return now }
	return tb, &now
}

func TestAllowDrainsCapacity(t *testing.T) {
	tb, _ := newTestBucket(Config{Rate: 1, Capacity: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := tb.Allow(ctx, "tenant-a:email", 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i)
	}

	ok, err := tb.Allow(ctx, "tenant-a:email", 1)
	require.NoError(t, err)
	assert.False(t, ok, "bucket should be empty")
}

func TestRefillByElapsedTime(t *testing.T) {
	tb, now := newTestBucket(Config{Rate: 2, Capacity: 4})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ok, _ := tb.Allow(ctx, "k", 1)
		require.True(t, ok)
	}
	ok, _ := tb.Allow(ctx, "k", 1)
	require.False(t, ok)

	// 1s at 2 tokens/s buys exactly two more requests
	*now = now.Add(time.Second)
	ok, _ = tb.Allow(ctx, "k", 1)
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "k", 1)
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "k", 1)
	assert.False(t, ok)
}

func TestRefillCappedAtCapacity(t *testing.T) {
	tb, now := newTestBucket(Config{Rate: 10, Capacity: 2})
	ctx := context.Background()

	ok, _ := tb.Allow(ctx, "k", 1)
	require.True(t, ok)

	// a long idle period must not bank more than the capacity
	*now = now.Add(time.Hour)
	for i := 0; i < 2; i++ {
		ok, _ = tb.Allow(ctx, "k", 1)
		assert.True(t, ok)
	}
	ok, _ = tb.Allow(ctx, "k", 1)
	assert.False(t, ok)
}

func TestCostLargerThanOne(t *testing.T) {
	tb, _ := newTestBucket(Config{Rate: 1, Capacity: 5})
	ctx := context.Background()

	ok, _ := tb.Allow(ctx, "k", 3)
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "k", 3)
	assert.False(t, ok)
	ok, _ = tb.Allow(ctx, "k", 2)
	assert.True(t, ok)
}

func TestKeysAreIndependent(t *testing.T) {
	tb, _ := newTestBucket(Config{Rate: 1, Capacity: 1})
	ctx := context.Background()

	ok, _ := tb.Allow(ctx, "tenant-a:email", 1)
	require.True(t, ok)
	ok, _ = tb.Allow(ctx, "tenant-a:email", 1)
	assert.False(t, ok)

	// a different tenant/kind pair draws from its own bucket
	ok, _ = tb.Allow(ctx, "tenant-b:email", 1)
	assert.True(t, ok)
	ok, _ = tb.Allow(ctx, "tenant-a:wa_message", 1)
	assert.True(t, ok)
}
