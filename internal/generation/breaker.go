package generation

import (
	"sync"
	"time"
)

// Breaker stops hammering a failing backend. After threshold consecutive
// failures it opens for cooldown. Once the cooldown expires a single call
// is let through as a probe; everyone else keeps failing fast until the
// probe reports back.
//
// One Breaker is shared by every session in the process since they all
// talk to the same backend.
type Breaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures  int
	openUntil time.Time
	open      bool
	probing   bool
}

// NewBreaker creates a breaker. Non-positive arguments fall back to 5
// failures and one minute.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. A caller that is allowed must
// report back through RecordSuccess, RecordFailure or Release.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if b.probing || !b.now().After(b.openUntil) {
		return false
	}
	b.probing = true
	return true
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
	b.probing = false
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A failed probe re-opens it for another cooldown.
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.probing || b.failures >= b.threshold {
		b.open = true
		b.probing = false
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// Release ends an allowed call without judging the backend, e.g. when the
// caller gave up. A pending probe slot is freed for the next caller.
func (b *Breaker) Release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// IsOpen reports whether the breaker is tripped. An open breaker may still
// admit one probe once its cooldown has expired.
func (b *Breaker) IsOpen() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
