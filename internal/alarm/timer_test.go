package alarm

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestVerificationTimer_fires(t *testing.T) {
	timer := NewVerificationTimer()
	fired := make(chan struct{})
	timer.Arm(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestVerificationTimer_disarmSuppressesCallback(t *testing.T) {
	timer := NewVerificationTimer()
	var fired atomic.Int32
	timer.Arm(10*time.Millisecond, func() { fired.Add(1) })
	timer.Disarm()

	time.Sleep(50 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Errorf("disarmed timer fired %d times", n)
	}
}

func TestVerificationTimer_reArmSupersedes(t *testing.T) {
	timer := NewVerificationTimer()
	var first, second atomic.Int32
	timer.Arm(10*time.Millisecond, func() { first.Add(1) })
	timer.Arm(20*time.Millisecond, func() { second.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if n := first.Load(); n != 0 {
		t.Errorf("superseded callback fired %d times", n)
	}
	if n := second.Load(); n != 1 {
		t.Errorf("current callback fired %d times, want 1", n)
	}
}

func TestVerificationTimer_disarmRace(t *testing.T) {
	// Disarm at roughly the expiry moment; whatever the interleaving,
	// the callback fires at most once and never after Disarm returns
	// with the generation bumped.
	for i := 0; i < 100; i++ {
		timer := NewVerificationTimer()
		var fired atomic.Int32
		timer.Arm(time.Millisecond, func() { fired.Add(1) })
		time.Sleep(time.Millisecond)
		timer.Disarm()
		before := fired.Load()

		time.Sleep(5 * time.Millisecond)
		if after := fired.Load(); after != before {
			t.Fatalf("iteration %d: callback fired after disarm", i)
		}
		if fired.Load() > 1 {
			t.Fatalf("iteration %d: callback fired %d times", i, fired.Load())
		}
	}
}
