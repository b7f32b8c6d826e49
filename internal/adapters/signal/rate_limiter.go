package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle    = 10 * time.Minute
	limiterMaxIdle = 1024
	defaultRate    = 20
	defaultBurst   = 40
)

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// UserRateLimiter is a token bucket per user (or per connection for anonymous sockets).
type UserRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func NewUserRateLimiter(perSecond float64, burst int) *UserRateLimiter {
	if perSecond <= 0 {
		perSecond = defaultRate
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &UserRateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (rl *UserRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.entries[key]
	if !ok {
		if len(rl.entries) >= limiterMaxIdle {
			rl.prune(now)
		}
		e = &limiterEntry{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (rl *UserRateLimiter) prune(now time.Time) {
	for k, e := range rl.entries {
		if now.Sub(e.seen) > limiterIdle {
			delete(rl.entries, k)
		}
	}
}
