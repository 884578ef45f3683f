package webhooks

import (
	"math/rand/v2"
	"time"
)

// Backoff computes the wait before the next attempt: Base * 2^(n-1), capped at Max,
// spread by +/- Jitter (a ratio of the delay).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a value in [0,1). Defaults to math/rand/v2.
	Rand func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 5 * time.Minute, Jitter: 0.2}
}

// Delay returns the wait after the given number of completed attempts (1-based).
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base, max := b.Base, b.Max
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	d := base
	for i := 1; i < attempts && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		spread := float64(d) * b.Jitter
		d += time.Duration(spread*(2*r()-1))
	}
	if d > max {
		d = max
	}
	if d < 0 {
		d = 0
	}
	return d
}
