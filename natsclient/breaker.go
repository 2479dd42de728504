package natsclient

import (
	"sync"
	"time"
)

const (
	defaultCircuitThreshold = 5
	initialBackoff          = time.Second
	defaultMaxBackoff       = time.Minute
)

// breaker counts connection failures in rounds of threshold. Each completed
// round reports the backoff to wait before the next attempt and doubles it,
// up to max. A successful connection resets everything.
type breaker struct {
	mu        sync.Mutex
	threshold int32
	max       time.Duration
	total     int32
	round     int32
	backoff   time.Duration
	last      time.Time
}

func newBreaker(threshold int32, max time.Duration) *breaker {
	if threshold < 1 {
		threshold = defaultCircuitThreshold
	}
	if max < initialBackoff {
		max = defaultMaxBackoff
	}
	return &breaker{threshold: threshold, max: max, backoff: initialBackoff}
}

// fail records one failure at now. tripped is true when the failure completes
// a round, and wait is the backoff that applies before the next attempt.
func (b *breaker) fail(now time.Time) (tripped bool, wait time.Duration, total int32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.round++
	b.last = now
	if b.round < b.threshold {
		return false, 0, b.total
	}

	b.round = 0
	wait = b.backoff
	b.backoff = min(b.backoff*2, b.max)
	return true, wait, b.total
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = 0
	b.round = 0
	b.backoff = initialBackoff
	b.last = time.Time{}
}

func (b *breaker) failures() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *breaker) currentBackoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backoff
}

func (b *breaker) lastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
