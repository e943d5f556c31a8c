package tubes

import (
	"context"
	stderr "errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/protocol"
	"github.com/roadrunner-server/tubes/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	reserveTimeout   time.Duration = 30 * time.Second
	deadlineSoonWait time.Duration = 500 * time.Millisecond
	ttrSafetyMargin  time.Duration = time.Second
)

// WatcherState is a snapshot of a watcher, used by metrics and RPC.
type WatcherState struct {
	Tube      string `json:"tube"`
	Index     int    `json:"index"`
	Running   bool   `json:"running"`
	Working   bool   `json:"working"`
	JobID     uint64 `json:"job_id,omitempty"`
	Processed uint64 `json:"processed"`
}

// Watcher is one consumer of a tube. It runs a single job at a time.
type Watcher struct {
	index   int
	tube    *Tube
	handler Handler
	opts    *HandleOptions
	log     *zap.Logger

	mu      sync.Mutex
	current *ReservedJob
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	processed atomic.Uint64
}

func newWatcher(index int, t *Tube, handler Handler, opts *HandleOptions) *Watcher {
	return &Watcher{
		index:   index,
		tube:    t,
		handler: handler,
		opts:    opts,
		log:     t.log.With(zap.Int("watcher", index)),
	}
}

func (w *Watcher) Index() int {
	return w.index
}

// Current returns the in-flight job, nil when idle.
func (w *Watcher) Current() *ReservedJob {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) State() *WatcherState {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := &WatcherState{
		Tube:      w.tube.Name(),
		Index:     w.index,
		Processed: w.processed.Load(),
	}

	if w.done != nil {
		select {
		case <-w.done:
		default:
			st.Running = true
		}
	}

	if w.current != nil {
		st.Working = true
		st.JobID = w.current.ID()
	}

	return st
}

func (w *Watcher) start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.done
	if prev != nil {
		select {
		case <-prev:
		default:
			// already looping, unless a stop is pending
			if !w.stopped {
				return
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.stopped = false

	go func() {
		if prev != nil {
			// one loop at a time, the previous one may still finish its job
			<-prev
		}
		w.loop(ctx, done)
	}()
}

// Stop interrupts a pending reservation or backoff and waits until the loop
// exits. A running handler is never interrupted, Stop waits for it instead.
func (w *Watcher) Stop(ctx context.Context) error {
	const op = errors.Op("tubes_watcher_stop")

	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.stopped = true
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.E(op, errors.Errorf("watcher %d of tube %s: %v", w.index, w.tube.Name(), ctx.Err()))
	}
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	const op = errors.Op("tubes_watcher_loop")
	defer close(done)

	w.log.Debug("watcher started")
	timer := time.NewTimer(w.opts.ReconnectBackoff)
	defer timer.Stop()

	for {
		if !w.tube.Running() || ctx.Err() != nil {
			w.log.Debug("watcher stopped")
			return
		}

		err := w.iterate(ctx)
		if err != nil && ctx.Err() == nil {
			w.tube.worker.report(errors.E(op, err))
		}

		timer.Reset(w.opts.ReconnectBackoff)
		select {
		case <-ctx.Done():
			w.log.Debug("watcher stopped")
			return
		case <-timer.C:
		}
	}
}

// iterate reserves and runs a single job. Only session errors are returned,
// job failures are handled and logged by run.
func (w *Watcher) iterate(ctx context.Context) error {
	s, err := w.tube.connection(ctx, "watcher/"+strconv.Itoa(w.index))
	if err != nil {
		return err
	}

	err = s.watch(ctx, w.tube.Name())
	if err != nil {
		return err
	}

	var id uint64
	var body []byte
	err = s.Do(ctx, func(ctx context.Context, c queue.Client) error {
		var err error
		id, body, err = c.ReserveWithTimeout(ctx, reserveTimeout)
		return err
	})

	switch {
	case err == nil:
	case stderr.Is(err, queue.ErrTimedOut):
		return nil
	case stderr.Is(err, queue.ErrDeadlineSoon):
		w.log.Warn("reserved job is about to time out, waiting", zap.Duration("wait", deadlineSoonWait))
		select {
		case <-ctx.Done():
		case <-time.After(deadlineSoonWait):
		}
		return nil
	default:
		return err
	}

	// jobs are never interrupted by the watcher stop
	jctx := context.WithoutCancel(ctx)
	job := newReservedJob(jctx, w.tube.worker.Job(w.tube.Name(), id), s, nil, w.log.With(zap.Uint64("id", id)))

	w.mu.Lock()
	w.current = job
	w.mu.Unlock()

	err = w.run(jctx, job, body)
	if err != nil {
		job.log.Error("job failed", zap.Error(err))
	}

	w.processed.Add(1)

	w.mu.Lock()
	w.current = nil
	w.mu.Unlock()

	return nil
}

// run executes the handler under the execution deadline and resolves the job.
func (w *Watcher) run(ctx context.Context, job *ReservedJob, body []byte) error {
	const op = errors.Op("tubes_watcher_run")
	defer job.close()

	st, err := job.Stats(ctx)
	if err != nil {
		// the reservation expires on its own and the job is retried
		return errors.E(op, err)
	}

	env, err := protocol.Decode(body)
	if err != nil {
		job.env = &protocol.Envelope{}
		return w.resolve(job, st, err)
	}
	job.env = env

	traceCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(env.Headers))
	hctx, span := w.tube.worker.tracer.Tracer(tracerName).Start(traceCtx, "run")
	defer span.End()

	span.SetAttributes(
		attribute.String("tube", w.tube.Name()),
		attribute.Int64("id", int64(job.ID())), //nolint:gosec
		attribute.Int("reserves", st.Reserves),
	)

	hctx, cancel := context.WithCancel(hctx)
	defer cancel()

	start := time.Now()
	finished := make(chan struct{})
	err = job.Timeout(st.TTR-ttrSafetyMargin, func() error {
		defer close(finished)
		return w.invoke(hctx, job)
	})

	if stderr.Is(err, ErrExecTimeout) {
		cancel()
		job.log.Warn("job execution deadline exceeded", zap.Duration("ttr", st.TTR))
	}

	err = w.resolve(job, st, err)
	// the next reservation starts only once the handler returned
	<-finished

	job.log.Debug("job finished", zap.Duration("elapsed", time.Since(start)), zap.Bool("failed", err != nil))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return errors.E(op, err)
	}

	return nil
}

func (w *Watcher) invoke(ctx context.Context, job *ReservedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()

	return w.handler.Handle(ctx, job)
}

// resolve destroys, releases or buries the job according to the handler outcome.
func (w *Watcher) resolve(job *ReservedJob, st *queue.Stats, err error) error {
	m := w.tube.worker.metrics

	switch {
	case err == nil:
		job.destroy()
		m.jobOk(w.tube.Name())
		return nil
	case stderr.Is(err, Delayed):
		m.jobDelayed(w.tube.Name())
		return nil
	}

	m.jobErr(w.tube.Name())

	if st.Reserves >= w.opts.Tries {
		job.log.Warn("job failed too many times, burying", zap.Int("reserves", st.Reserves), zap.Error(err))
		job.bury(st.Priority)
		m.jobBuried(w.tube.Name())
		return err
	}

	job.release(st.Priority, w.opts.Backoff.Delay(st.Reserves))
	m.jobReleased(w.tube.Name())
	return err
}
