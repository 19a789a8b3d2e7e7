package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepEvery bounds how often Allow scans for buckets that have refilled.
const sweepEvery = time.Minute

// MemoryRateLimiter keeps one token bucket per key in process memory. It is
// the single-instance counterpart of RedisRateLimiter.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryRateLimiter refills requests tokens per window and holds at most
// burst of them.
func NewMemoryRateLimiter(requests, burst int, window time.Duration) *MemoryRateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}

	return &MemoryRateLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow spends one token from key's bucket.
func (l *MemoryRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepEvery {
		l.sweepLocked(now)
	}

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	return bucket.AllowN(now, 1)
}

// sweepLocked drops buckets that are full again. A full bucket behaves like a
// fresh one, so forgetting it changes no decision.
func (l *MemoryRateLimiter) sweepLocked(now time.Time) {
	l.lastSweep = now
	for key, bucket := range l.buckets {
		if bucket.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// tracked reports how many keys hold a bucket.
func (l *MemoryRateLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
