package tubes

import (
	"context"
	stderr "errors"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/queue"
)

const (
	pollInterval time.Duration = 500 * time.Millisecond

	// StatusSuccess is reported for jobs which no longer exist on the server.
	StatusSuccess string = "success"
)

// Handle is the identity of a job plus the stats it is polled with.
type Handle interface {
	ID() uint64
	Tube() string
	Stats(ctx context.Context) (*queue.Stats, error)
}

// Job is a handle on a job which is not necessarily reserved by this worker.
type Job struct {
	worker *Worker
	tube   *Tube
	id     uint64
}

func (j *Job) ID() uint64 {
	return j.id
}

func (j *Job) Tube() string {
	return j.tube.Name()
}

// Equal reports whether both handles point to the same job.
func (j *Job) Equal(o *Job) bool {
	if j == nil || o == nil {
		return j == o
	}

	return j.id == o.id && j.Tube() == o.Tube()
}

// Stats fetches the job stats over the tube command session.
// queue.ErrNotFound is returned unwrapped once the job is gone.
func (j *Job) Stats(ctx context.Context) (*queue.Stats, error) {
	var st *queue.Stats
	err := j.tube.Command(ctx, func(ctx context.Context, c queue.Client) error {
		var err error
		st, err = c.StatsJob(ctx, j.id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return st, nil
}

// Status returns the job state, or StatusSuccess when the job was consumed.
func (j *Job) Status(ctx context.Context) (string, error) {
	return status(ctx, j)
}

// Done blocks until the job is consumed (nil) or buried (ErrBuried).
// onPoll, when set, is called with the state seen on every tick.
func (j *Job) Done(ctx context.Context, onPoll func(state queue.State)) error {
	return poll(ctx, j, onPoll)
}

func status(ctx context.Context, h Handle) (string, error) {
	const op = errors.Op("tubes_job_status")

	st, err := h.Stats(ctx)
	if err != nil {
		if stderr.Is(err, queue.ErrNotFound) {
			return StatusSuccess, nil
		}
		return "", errors.E(op, err)
	}

	return string(st.State), nil
}

func poll(ctx context.Context, h Handle, onPoll func(state queue.State)) error {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		st, err := h.Stats(ctx)
		if err != nil {
			if stderr.Is(err, queue.ErrNotFound) {
				return nil
			}
			return err
		}

		if onPoll != nil {
			onPoll(st.State)
		}

		if st.State == queue.StateBuried {
			return ErrBuried
		}

		timer.Reset(pollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
