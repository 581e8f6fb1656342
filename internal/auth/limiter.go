package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// keyLimiter bounds attempts per key (account email or token hash) with
// one token bucket per key. The bucket map is capped; on overflow it is
// reset wholesale, which briefly widens the limit rather than growing
// without bound.
type keyLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

const limiterMaxKeys = 4096

func newKeyLimiter(limit rate.Limit, burst int) *keyLimiter {
	return &keyLimiter{
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *keyLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= limiterMaxKeys {
			l.buckets = make(map[string]*rate.Limiter)
		}
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b.Allow()
}
