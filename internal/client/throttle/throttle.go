// Package throttle coalesces bursts of calls into rate-limited runs.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle runs fn at most once per interval. Calls arriving while a run is
// scheduled are folded into it, and the run always happens after the last
// of them, so fn sees the latest state.
type Throttle struct {
	fn      func()
	limiter *rate.Limiter

	mu        sync.Mutex
	scheduled bool
	timer     *time.Timer
	stopped   bool
}

func New(interval time.Duration, fn func()) *Throttle {
	return &Throttle{fn: fn, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Trigger requests a run.
func (t *Throttle) Trigger() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.scheduled {
		return
	}
	t.scheduled = true
	delay := t.limiter.Reserve().Delay()
	t.timer = time.AfterFunc(delay, t.run)
}

func (t *Throttle) run() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.scheduled = false
	t.mu.Unlock()
	t.fn()
}

// Stop cancels a scheduled run and ignores further triggers.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
