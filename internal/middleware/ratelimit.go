package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// RateLimiter tracks request timestamps per key over a sliding window.
// The relay limits on two kinds of keys: caller IP at the router and
// device ID inside the register handler, once the body is decoded.
type RateLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing limit calls per key within
// any window-sized interval.
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	rl := &RateLimiter{
		window: window,
		limit:  limit,
		now:    time.Now,
		seen:   make(map[string][]time.Time),
	}
	go rl.evictLoop()
	return rl
}

// Allow records the call and reports whether key is still under budget
// for the current window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.prune(key, now)
	if len(recent) >= rl.limit {
		return false
	}
	rl.seen[key] = append(recent, now)
	return true
}

// prune drops timestamps that fell out of the window. Caller holds mu.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	stamps := rl.seen[key]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// evictLoop forgets keys that have gone quiet, so the map does not
// grow with every address that ever called the relay.
func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := rl.now()
		for key := range rl.seen {
			kept := rl.prune(key, now)
			if len(kept) == 0 {
				delete(rl.seen, key)
				continue
			}
			rl.seen[key] = kept
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects requests whose key is over budget with
// 429 before the handler runs.
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey builds a limiter key from the caller address. X-Forwarded-For
// wins over RemoteAddr so callers behind the reverse proxy are not all
// folded into one key.
func GetIPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return "ip:" + forwarded
	}
	return "ip:" + r.RemoteAddr
}

// GetDeviceKey creates a rate limit key from a device ID, so one noisy
// device cannot exhaust the register budget of the others behind the
// same NAT.
func GetDeviceKey(deviceID string) string {
	return "device:" + deviceID
}
