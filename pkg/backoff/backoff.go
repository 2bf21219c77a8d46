package backoff

import (
	"math/rand"
	"time"
)

// Policy computes retry delays: base * 2^attempt, capped at Max, with up to
// Jitter fraction of random spread added on top. The pre-jitter delay is
// non-decreasing in the attempt number.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultPolicy matches the dispatcher defaults: 5s base, 10m cap, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:   5 * time.Second,
		Max:    10 * time.Minute,
		Jitter: 0.2,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}

	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

// NextAvailableAt schedules the next eligibility time for a failed item.
func (p Policy) NextAvailableAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
