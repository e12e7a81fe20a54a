package alarm

import (
	"sync"
	"time"
)

// VerificationTimer is a single-shot countdown for the ringing session.
// At most one armed instance exists; re-arming disarms the previous one.
// A callback from a timer that was disarmed (or superseded by a newer
// Arm) is a guaranteed no-op, enforced by a generation counter rather
// than by stopping the underlying timer alone, so a callback already
// queued by the runtime is still suppressed.
type VerificationTimer struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
}

// NewVerificationTimer returns a disarmed timer.
func NewVerificationTimer() *VerificationTimer {
	return &VerificationTimer{}
}

// Arm schedules onExpire after d, replacing any armed instance.
func (t *VerificationTimer) Arm(d time.Duration, onExpire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		live := t.gen == gen
		t.mu.Unlock()
		if live {
			onExpire()
		}
	})
}

// Disarm cancels the pending expiry, if any. Safe against an expiry
// callback already in flight: the callback observes the bumped
// generation and does nothing.
func (t *VerificationTimer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
