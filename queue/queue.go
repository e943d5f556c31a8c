package queue

import (
	"context"
	stderr "errors"
	"time"
)

var (
	// ErrTimedOut is returned by ReserveWithTimeout when no job became ready in time.
	ErrTimedOut = stderr.New("TIMED_OUT")
	// ErrDeadlineSoon is returned by ReserveWithTimeout when a job reserved by the
	// same session is about to exceed its TTR.
	ErrDeadlineSoon = stderr.New("DEADLINE_SOON")
	// ErrNotFound is returned when the job does not exist or is not reserved by the session.
	ErrNotFound = stderr.New("NOT_FOUND")
)

// ServerError is any other protocol level reply. The session stays usable.
type ServerError struct {
	Op    string
	Reply string
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Reply
}

// IsReply reports whether err is a protocol reply rather than a transport failure.
func IsReply(err error) bool {
	if err == nil {
		return false
	}

	if stderr.Is(err, ErrTimedOut) || stderr.Is(err, ErrDeadlineSoon) || stderr.Is(err, ErrNotFound) {
		return true
	}

	var se *ServerError
	return stderr.As(err, &se)
}

// Client is one queue server session.
type Client interface {
	// Use selects the tube subsequent Put calls go to.
	Use(ctx context.Context, tube string) error
	// Watch adds the tube to the reserve watch list.
	Watch(ctx context.Context, tube string) error
	// Ignore removes the tube from the reserve watch list.
	Ignore(ctx context.Context, tube string) error
	Put(ctx context.Context, priority uint32, delay, ttr time.Duration, body []byte) (uint64, error)
	ReserveWithTimeout(ctx context.Context, timeout time.Duration) (uint64, []byte, error)
	StatsJob(ctx context.Context, id uint64) (*Stats, error)
	Touch(ctx context.Context, id uint64) error
	Release(ctx context.Context, id uint64, priority uint32, delay time.Duration) error
	Bury(ctx context.Context, id uint64, priority uint32) error
	Destroy(ctx context.Context, id uint64) error
	// Quit closes the session.
	Quit() error
}

// Dialer opens new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Client, error)

func (f DialerFunc) Dial(ctx context.Context) (Client, error) {
	return f(ctx)
}
