package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type tickingClock struct {
	t time.Time
}

func (c *tickingClock) now() time.Time { return c.t }

func (c *tickingClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(window time.Duration, limit int) (*RateLimiter, *tickingClock) {
	clock := &tickingClock{t: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(window, limit)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_blocksOverLimit(t *testing.T) {
	rl, _ := newTestLimiter(time.Minute, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("device:a") {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if rl.Allow("device:a") {
		t.Error("fourth call within the window should be blocked")
	}
}

func TestRateLimiter_windowSlides(t *testing.T) {
	rl, clock := newTestLimiter(time.Minute, 2)

	if !rl.Allow("device:a") || !rl.Allow("device:a") {
		t.Fatal("first two calls should be allowed")
	}
	if rl.Allow("device:a") {
		t.Fatal("third call should be blocked")
	}

	clock.advance(61 * time.Second)
	if !rl.Allow("device:a") {
		t.Error("calls should be allowed again once the window has passed")
	}
}

func TestRateLimiter_keysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(time.Minute, 1)

	if !rl.Allow("device:a") {
		t.Fatal("first key should be allowed")
	}
	if !rl.Allow("device:b") {
		t.Error("a blocked key must not spend another key's budget")
	}
}

func TestRateLimitMiddleware_rejectsOverBudget(t *testing.T) {
	rl, _ := newTestLimiter(time.Minute, 1)

	served := 0
	handler := RateLimitMiddleware(rl, GetIPKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/register", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/register", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", second.Code)
	}
	if !strings.Contains(second.Body.String(), "rate limit exceeded") {
		t.Errorf("body = %q, want the rate limit error", second.Body.String())
	}
	if served != 1 {
		t.Errorf("handler served %d requests, want 1", served)
	}
}

func TestGetIPKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:4711"
	if got := GetIPKey(r); got != "ip:10.0.0.1:4711" {
		t.Errorf("GetIPKey = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := GetIPKey(r); got != "ip:203.0.113.9" {
		t.Errorf("GetIPKey with X-Forwarded-For = %q", got)
	}
}

func TestGetDeviceKey(t *testing.T) {
	if got := GetDeviceKey("device-abc"); got != "device:device-abc" {
		t.Errorf("GetDeviceKey = %q", got)
	}
}
