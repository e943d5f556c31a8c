package tubes

import (
	"sync"
	"time"
)

// throttle runs fn at most once per wait. The first call fires fn right away
// without waiting for it, calls inside the window collapse into a single
// trailing call at its end.
type throttle struct {
	mu      sync.Mutex
	wait    time.Duration
	fn      func()
	last    time.Time
	timer   *time.Timer
	pending bool
	stopped bool
}

func newThrottle(wait time.Duration, fn func()) *throttle {
	return &throttle{
		wait: wait,
		fn:   fn,
	}
}

func (t *throttle) call() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	since := time.Since(t.last)
	if t.last.IsZero() || (since >= t.wait && !t.pending) {
		t.last = time.Now()
		t.mu.Unlock()
		go t.fn()
		return
	}

	if !t.pending {
		t.pending = true
		t.timer = time.AfterFunc(t.wait-since, t.flush)
	}
	t.mu.Unlock()
}

func (t *throttle) flush() {
	t.mu.Lock()
	if t.stopped || !t.pending {
		t.mu.Unlock()
		return
	}

	t.pending = false
	t.last = time.Now()
	t.mu.Unlock()

	t.fn()
}

// stop drops a pending trailing call, every following call is a no-op.
func (t *throttle) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
	}
}
