package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig tunes the per-client token bucket used by [Throttle].
type ThrottleConfig struct {
	// RequestsPerSecond is the sustained rate allowed per client IP.
	RequestsPerSecond float64
	// Burst is the momentary excess allowed on top of the sustained rate.
	Burst int
	// IdleEviction drops a client's bucket after this much inactivity.
	// Zero means one hour.
	IdleEviction time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle returns middleware enforcing an in-process per-IP token
// bucket. It guards a single instance against bursts before requests
// reach the engine; the engine's Redis-backed limiter enforces the
// cluster-wide match budget.
func Throttle(cfg ThrottleConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = time.Hour
	}

	var (
		mu      sync.Mutex
		buckets = make(map[string]*clientBucket)
	)

	lookup := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		b, ok := buckets[ip]
		if !ok {
			// Opportunistic sweep; the map only grows on new clients.
			for key, stale := range buckets {
				if now.Sub(stale.lastSeen) > cfg.IdleEviction {
					delete(buckets, key)
				}
			}
			b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			buckets[ip] = b
		}
		b.lastSeen = now
		return b.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lookup(clientIP(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
