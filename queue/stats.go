package queue

import (
	"time"
)

// State of a job as reported by the server.
type State string

const (
	StateReady    State = "ready"
	StateDelayed  State = "delayed"
	StateReserved State = "reserved"
	StateBuried   State = "buried"
)

// Stats is the server-reported view of a single job.
type Stats struct {
	State State
	// TTR is the time-to-run, whole seconds on the wire
	TTR time.Duration
	// Reserves is the number of times the job has been reserved, including the current reservation
	Reserves int
	Priority uint32
	// Delay is the delay the job was last put or released with
	Delay time.Duration
}
