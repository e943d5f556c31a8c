package tubes

import (
	stderr "errors"
)

var (
	// ErrBuried is returned while polling a job that ended up buried.
	ErrBuried = stderr.New("buried")
	// ErrExecTimeout is returned when a handler outlives its execution deadline.
	ErrExecTimeout = stderr.New("timed out")
	// ErrTimeoutActive is a usage error: a job can only race one timeout at a time.
	ErrTimeoutActive = stderr.New("only a single timeout can be active")
	// ErrNoAction is returned by Timeout called without an action to race.
	ErrNoAction = stderr.New("timeout requires an action")
	// ErrNoPayload is returned when spawning a job without a payload.
	ErrNoPayload = stderr.New("job has no payload, use an explicit empty payload ({}) if that is your intention")
	// ErrSessionClosed is returned by calls on a session that was quit or lost its transport.
	ErrSessionClosed = stderr.New("session is closed")

	// Delayed is returned by ReservedJob.Delay. Handlers return it to tell the
	// watcher the job was rescheduled and must not be destroyed.
	Delayed = stderr.New("job delayed")
)

// ChildError is returned by ReservedJob.Child when the child job failed.
type ChildError struct {
	Tube string
	ID   uint64
	Err  error
}

func (e *ChildError) Error() string {
	return "child job failed: " + e.Err.Error()
}

func (e *ChildError) Unwrap() error {
	return e.Err
}
