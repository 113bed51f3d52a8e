package service

import (
	"sync"
	"time"
)

// ExitPressTracker remembers exit button presses. The reconciler records
// presses; the watchdog reads the latest one for its grace window, and the
// exit-grant correlation claims each press at most once.
type ExitPressTracker struct {
	mu        sync.Mutex
	last      time.Time
	unclaimed time.Time
}

func NewExitPressTracker() *ExitPressTracker {
	return &ExitPressTracker{}
}

func (t *ExitPressTracker) Press(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = at
	t.unclaimed = at
}

// LastPress returns the most recent press, or the zero time.
func (t *ExitPressTracker) LastPress() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Claim attributes the unclaimed press to a door opening at `at` if the
// press happened no more than window before it. A claimed press cannot be
// claimed again.
func (t *ExitPressTracker) Claim(at time.Time, window time.Duration) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.unclaimed.IsZero() {
		return time.Time{}, false
	}
	since := at.Sub(t.unclaimed)
	if since < 0 || since > window {
		return time.Time{}, false
	}
	pressed := t.unclaimed
	t.unclaimed = time.Time{}
	return pressed, true
}
