package tubes

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/protocol"
	"github.com/roadrunner-server/tubes/queue"
	"go.uber.org/zap"
)

const touchInterval time.Duration = time.Second

// ReservedJob is a Job reserved by a watcher. It is only valid while the
// handler runs.
type ReservedJob struct {
	*Job

	session *Session
	env     *protocol.Envelope
	// bookkeeping calls (touch, release, bury, destroy) outlive the handler context
	ctx context.Context
	log *zap.Logger

	mu    sync.Mutex
	slot  *timeoutSlot
	touch *throttle
}

func newReservedJob(ctx context.Context, job *Job, session *Session, env *protocol.Envelope, log *zap.Logger) *ReservedJob {
	rj := &ReservedJob{
		Job:     job,
		session: session,
		env:     env,
		ctx:     ctx,
		log:     log,
	}

	rj.touch = newThrottle(touchInterval, rj.keepAlive)
	return rj
}

// Payload returns the raw json payload.
func (j *ReservedJob) Payload() json.RawMessage {
	return j.env.Payload
}

// Decode unmarshals the payload into v.
func (j *ReservedJob) Decode(v any) error {
	return j.env.Decode(v)
}

// Metadata returns the enqueue options which are not enqueue controls.
func (j *ReservedJob) Metadata() map[string]json.RawMessage {
	return j.env.Meta
}

// Headers returns the propagated headers, trace context included.
func (j *ReservedJob) Headers() map[string]string {
	return j.env.Headers
}

// Stats fetches the job stats over the reserving session.
func (j *ReservedJob) Stats(ctx context.Context) (*queue.Stats, error) {
	var st *queue.Stats
	err := j.session.Do(ctx, func(ctx context.Context, c queue.Client) error {
		var err error
		st, err = c.StatsJob(ctx, j.id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return st, nil
}

func (j *ReservedJob) Status(ctx context.Context) (string, error) {
	return status(ctx, j)
}

func (j *ReservedJob) Done(ctx context.Context, onPoll func(state queue.State)) error {
	return poll(ctx, j, onPoll)
}

// Touch extends the reservation and restarts the execution deadline.
// Calls are throttled to one per second, the last call inside a window is
// delivered at its end.
func (j *ReservedJob) Touch() {
	j.touch.call()
}

func (j *ReservedJob) keepAlive() {
	err := j.session.Do(j.ctx, func(ctx context.Context, c queue.Client) error {
		return c.Touch(ctx, j.id)
	})
	if err != nil {
		j.log.Error("failed to touch the job", zap.Error(err))
		return
	}

	j.RefreshTimeout()
	j.log.Debug("job touched")
}

// Spawn enqueues a job into the tube.
func (j *ReservedJob) Spawn(ctx context.Context, tube string, payload any, opts Options) (*Job, error) {
	return j.worker.Spawn(ctx, tube, payload, opts)
}

// Child spawns a job and waits for it, keeping this job alive meanwhile.
// A failed child is reported as *ChildError.
func (j *ReservedJob) Child(ctx context.Context, tube string, payload any, opts Options) error {
	child, err := j.Spawn(ctx, tube, payload, opts)
	if err != nil {
		return err
	}

	err = j.await(ctx, child)
	if err != nil {
		return &ChildError{Tube: child.Tube(), ID: child.ID(), Err: err}
	}

	return nil
}

// Wait waits for an existing job, keeping this job alive meanwhile. The
// polling error (ErrBuried, a stats failure or ctx.Err()) is returned as is.
func (j *ReservedJob) Wait(ctx context.Context, tube string, id uint64) error {
	return j.await(ctx, j.worker.Job(tube, id))
}

func (j *ReservedJob) await(ctx context.Context, job *Job) error {
	return job.Done(ctx, func(queue.State) {
		j.Touch()
	})
}

// Delay releases the job to be retried later and returns Delayed, which the
// handler is expected to return. A failed release is logged only. A zero d reuses the current delay of the
// job, a positive exponent raises the delay in milliseconds to that power.
func (j *ReservedJob) Delay(ctx context.Context, d time.Duration, exponent float64) error {
	const op = errors.Op("tubes_job_delay")

	st, err := j.Stats(ctx)
	if err != nil {
		return errors.E(op, err)
	}

	if d <= 0 {
		d = st.Delay
	}

	if exponent > 0 {
		ms := math.Pow(float64(d.Milliseconds()), exponent)
		d = time.Duration(ms * float64(time.Millisecond))
	}

	d = ceilSeconds(d)
	err = j.session.Do(ctx, func(ctx context.Context, c queue.Client) error {
		return c.Release(ctx, j.id, st.Priority, d)
	})
	if err != nil {
		// the reservation expires on its own and the job is retried
		j.log.Error("failed to delay the job", zap.Duration("delay", d), zap.Error(err))
		return Delayed
	}

	j.log.Debug("job delayed", zap.Duration("delay", d))
	return Delayed
}

func (j *ReservedJob) destroy() {
	err := j.session.Do(j.ctx, func(ctx context.Context, c queue.Client) error {
		return c.Destroy(ctx, j.id)
	})
	if err != nil {
		j.log.Error("failed to destroy the job", zap.Error(err))
		return
	}

	j.log.Debug("job destroyed")
}

func (j *ReservedJob) release(priority uint32, delay time.Duration) {
	err := j.session.Do(j.ctx, func(ctx context.Context, c queue.Client) error {
		return c.Release(ctx, j.id, priority, delay)
	})
	if err != nil {
		j.log.Error("failed to release the job", zap.Error(err))
		return
	}

	j.log.Debug("job released", zap.Duration("delay", delay))
}

func (j *ReservedJob) bury(priority uint32) {
	err := j.session.Do(j.ctx, func(ctx context.Context, c queue.Client) error {
		return c.Bury(ctx, j.id, priority)
	})
	if err != nil {
		j.log.Error("failed to bury the job", zap.Error(err))
		return
	}

	j.log.Debug("job buried")
}

// close stops the keep-alive and the execution deadline.
func (j *ReservedJob) close() {
	j.touch.stop()
	j.CancelTimeout()
}
