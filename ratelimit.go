package pph

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// VerifyLimiter is a per-key token-bucket Limiter: one
// golang.org/x/time/rate.Limiter per key, created lazily. A periodic
// check clears the whole map once it holds more than 10000 keys, so a
// stream of distinct keys can't grow it without bound.
type VerifyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int

	lastCleanup time.Time
	cleanupAge  time.Duration
}

// NewVerifyLimiter creates a Limiter allowing requestsPerSecond steady
// throughput per key, with bursts up to burst.
func NewVerifyLimiter(requestsPerSecond float64, burst int) *VerifyLimiter {
	return &VerifyLimiter{
		limiters:    make(map[string]*rate.Limiter),
		rps:         requestsPerSecond,
		burst:       burst,
		lastCleanup: time.Now(),
		cleanupAge:  10 * time.Minute,
	}
}

// Allow implements Limiter.
func (rl *VerifyLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.cleanupAge {
		rl.cleanup()
	}

	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.limiters[key] = limiter
	}

	return limiter.Allow()
}

func (rl *VerifyLimiter) cleanup() {
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	rl.lastCleanup = time.Now()
}
