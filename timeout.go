package tubes

import (
	"sync"
	"time"
)

type timeoutSlot struct {
	d       time.Duration
	timer   *time.Timer
	expired chan struct{}
	once    sync.Once
}

func newTimeoutSlot(d time.Duration) *timeoutSlot {
	slot := &timeoutSlot{
		d:       d,
		expired: make(chan struct{}),
	}

	slot.timer = time.AfterFunc(d, slot.expire)
	return slot
}

func (s *timeoutSlot) expire() {
	s.once.Do(func() {
		close(s.expired)
	})
}

// Timeout races action against a timer of duration d. ErrExecTimeout is
// returned when the timer wins, action keeps running in the background.
// Only one race may be active per job, a second one fails with ErrTimeoutActive.
func (j *ReservedJob) Timeout(d time.Duration, action func() error) error {
	if action == nil {
		return ErrNoAction
	}

	j.mu.Lock()
	if j.slot != nil {
		j.mu.Unlock()
		return ErrTimeoutActive
	}

	slot := newTimeoutSlot(d)
	j.slot = slot
	j.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- action()
	}()

	select {
	case err := <-done:
		j.clearSlot(slot)
		return err
	case <-slot.expired:
		j.clearSlot(slot)
		return ErrExecTimeout
	}
}

// RefreshTimeout restarts the active timer with its original duration.
// A timer which already fired is left as is.
func (j *ReservedJob) RefreshTimeout() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.slot == nil {
		return
	}

	if j.slot.timer.Stop() {
		j.slot.timer.Reset(j.slot.d)
	}
}

// CancelTimeout stops the active timer, the race then only ends with the action.
func (j *ReservedJob) CancelTimeout() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.slot == nil {
		return
	}

	j.slot.timer.Stop()
	j.slot = nil
}

func (j *ReservedJob) clearSlot(slot *timeoutSlot) {
	j.mu.Lock()
	defer j.mu.Unlock()

	slot.timer.Stop()
	if j.slot == slot {
		j.slot = nil
	}
}
