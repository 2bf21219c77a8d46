package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// refill-then-deduct in a single round trip so concurrent workers cannot
// over-admit between the read and the write.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = capacity
local last_refill = now

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
if bucket[1] then
    tokens = tonumber(bucket[1])
    last_refill = tonumber(bucket[2])
    local elapsed = now - last_refill
    if elapsed > 0 then
        tokens = math.min(capacity, tokens + elapsed * rate)
    end
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, ttl)

return allowed
`

// RedisBucket is a Limiter backed by a shared Redis so multiple dispatcher
// processes draw from the same buckets.
type RedisBucket struct {
	client *redis.Client
	cfg    Config
	script *redis.Script
	ttl    time.Duration
}

func NewRedisBucket(client *redis.Client, cfg Config) *RedisBucket {
	return &RedisBucket{
		client: client,
		cfg:    cfg,
		script: redis.NewScript(tokenBucketScript),
		ttl:    time.Minute,
	}
}

func (r *RedisBucket) Allow(ctx context.Context, key string, cost float64) (bool, error) {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	res, err := r.script.Run(ctx, r.client,
		[]string{"ratelimit:" + key},
		r.cfg.Rate, r.cfg.Capacity, now, cost, int(r.ttl.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit script: %w", err)
	}
	return res == 1, nil
}

// Reset drops the bucket for key, restoring full capacity on next Allow.
func (r *RedisBucket) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, "ratelimit:"+key).Err()
}
