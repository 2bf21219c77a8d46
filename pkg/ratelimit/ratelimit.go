package ratelimit

import "context"

// Limiter is token-bucket admission control. Allow refills the bucket for key
// by elapsed time, then tries to deduct cost. It never blocks; denied callers
// decide whether to delay or reject.
type Limiter interface {
	Allow(ctx context.Context, key string, cost float64) (bool, error)
}

// Config describes one bucket class (e.g. per tenant:channel key).
type Config struct {
	Rate     float64 // tokens added per second
	Capacity float64 // burst ceiling
}
