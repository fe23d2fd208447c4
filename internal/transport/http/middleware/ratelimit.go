package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerKeyLimiter hands out one token-bucket limiter per key (the sending
// chat). Idle limiters are evicted so the map does not grow with every chat
// ever seen.
type PerKeyLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[int64]*keyLimiter
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerKeyLimiter creates a limiter allowing perMinute events per key,
// with a burst of the same size.
func NewPerKeyLimiter(perMinute int) *PerKeyLimiter {
	l := &PerKeyLimiter{
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		limiters: make(map[int64]*keyLimiter),
	}
	go l.evictLoop()
	return l
}

// Allow reports whether one more event from key fits its budget.
func (l *PerKeyLimiter) Allow(key int64) bool {
	l.mu.Lock()
	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = time.Now()
	l.mu.Unlock()

	return kl.limiter.Allow()
}

func (l *PerKeyLimiter) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-30 * time.Minute)
		l.mu.Lock()
		for key, kl := range l.limiters {
			if kl.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.mu.Unlock()
	}
}
