package realtime

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoff computes reconnect delays: base * 2^attempt plus up to half a base
// of jitter, capped at max. maxAttempts of zero never gives up.
type backoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	attempt     int
	jitter      func() float64
}

func newBackoff(base, maxDelay time.Duration, maxAttempts int) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &backoff{base: base, max: maxDelay, maxAttempts: maxAttempts, jitter: rand.Float64}
}

// next returns the delay before the next attempt, or false once the
// attempts are used up.
func (b *backoff) next() (time.Duration, bool) {
	if b.maxAttempts > 0 && b.attempt >= b.maxAttempts {
		return 0, false
	}
	j := b.jitter() * float64(b.base) * 0.5
	d := math.Min(float64(b.base)*math.Pow(2, float64(b.attempt))+j, float64(b.max))
	b.attempt++
	return time.Duration(d), true
}

func (b *backoff) reset() { b.attempt = 0 }

func (b *backoff) attempts() int { return b.attempt }
