package tubes

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/roadrunner-server/tubes/queue"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const tracerName string = "tubes"

// Option configures a Worker.
type Option func(w *Worker)

// WithLogger sets the logger, named "tubes" by the worker.
func WithLogger(log *zap.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log.Named(tracerName)
		}
	}
}

// WithConnectTimeout bounds the establishment of every session, default 10s.
func WithConnectTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.connectTimeout = d
		}
	}
}

// WithErrorHandler receives the errors of the reservation loops, by default they are logged.
func WithErrorHandler(fn func(err error)) Option {
	return func(w *Worker) {
		if fn != nil {
			w.errHandler = fn
		}
	}
}

// WithTracerProvider sets the provider the spawn and run spans are started with.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) {
		if tp != nil {
			w.tracer = tp
		}
	}
}

func withStatsExporter(se *statsExporter) Option {
	return func(w *Worker) {
		w.metrics = se
	}
}

// Worker owns the tubes and the queue sessions. Several workers may share a
// process, nothing is global.
type Worker struct {
	id             string
	dialer         queue.Dialer
	log            *zap.Logger
	tracer         trace.TracerProvider
	connectTimeout time.Duration
	errHandler     func(err error)
	metrics        *statsExporter

	// sessions
	mu    sync.Mutex
	conns map[string]*Session
	dials singleflight.Group

	tmu   sync.RWMutex
	tubes map[string]*Tube

	// tubes handled while running are started right away
	running atomic.Bool
}

func NewWorker(dialer queue.Dialer, opts ...Option) *Worker {
	w := &Worker{
		id:             uuid.NewString(),
		dialer:         dialer,
		log:            zap.NewNop(),
		connectTimeout: defaultConnectTimeout,
		conns:          make(map[string]*Session),
		tubes:          make(map[string]*Tube),
	}

	for i := 0; i < len(opts); i++ {
		opts[i](w)
	}

	w.log = w.log.With(zap.String("worker", w.id))

	if w.tracer == nil {
		w.tracer = sdktrace.NewTracerProvider()
	}

	if w.metrics == nil {
		w.metrics = newStatsExporter(w)
	}

	if w.errHandler == nil {
		w.errHandler = func(err error) {
			w.log.Error("watcher error", zap.Error(err))
		}
	}

	return w
}

// ID is the random instance id of the worker.
func (w *Worker) ID() string {
	return w.id
}

// Tube returns the tube, creating it on first use.
func (w *Worker) Tube(name string) *Tube {
	w.tmu.RLock()
	t, ok := w.tubes[name]
	w.tmu.RUnlock()
	if ok {
		return t
	}

	w.tmu.Lock()
	defer w.tmu.Unlock()

	if t, ok = w.tubes[name]; ok {
		return t
	}

	t = newTube(name, w)
	w.tubes[name] = t
	return t
}

// Tubes returns every known tube sorted by name.
func (w *Worker) Tubes() []*Tube {
	w.tmu.RLock()
	defer w.tmu.RUnlock()

	tubes := make([]*Tube, 0, len(w.tubes))
	for _, t := range w.tubes {
		tubes = append(tubes, t)
	}

	sort.Slice(tubes, func(i, j int) bool {
		return tubes[i].Name() < tubes[j].Name()
	})

	return tubes
}

// Handle registers handler on the tube, see Tube.Handle. The tube is
// started when the worker is running.
func (w *Worker) Handle(tube string, handler Handler, opts *HandleOptions) error {
	t := w.Tube(tube)

	err := t.Handle(handler, opts)
	if err != nil {
		return err
	}

	if w.running.Load() && !t.Running() {
		t.Start()
	}

	return nil
}

// Job returns a handle on an existing job.
func (w *Worker) Job(tube string, id uint64) *Job {
	return &Job{
		worker: w,
		tube:   w.Tube(tube),
		id:     id,
	}
}

// Done waits until the job is consumed or buried, see Job.Done.
func (w *Worker) Done(ctx context.Context, tube string, id uint64, onPoll func(state queue.State)) error {
	return w.Job(tube, id).Done(ctx, onPoll)
}

// Start starts every tube known to the worker.
func (w *Worker) Start() {
	w.running.Store(true)

	tubes := w.Tubes()
	for i := 0; i < len(tubes); i++ {
		tubes[i].Start()
	}

	w.log.Debug("worker started", zap.Int("tubes", len(tubes)))
}

// Stop stops every tube, waits for in-flight jobs and closes the sessions.
// When ctx expires first, the sessions of the jobs still running stay open
// so they can be destroyed, released or buried once their handlers return.
func (w *Worker) Stop(ctx context.Context) {
	w.running.Store(false)

	tubes := w.Tubes()

	g := &errgroup.Group{}
	for i := 0; i < len(tubes); i++ {
		t := tubes[i]
		g.Go(func() error {
			t.Stop(ctx)
			return nil
		})
	}

	_ = g.Wait()

	busy := make(map[string]struct{})
	for i := 0; i < len(tubes); i++ {
		watchers := tubes[i].Watchers()
		for j := 0; j < len(watchers); j++ {
			if job := watchers[j].Current(); job != nil {
				busy[job.session.ID()] = struct{}{}
			}
		}
	}

	w.closeSessions(busy)

	w.log.Debug("worker stopped")
}

// Working reports whether any watcher of any tube holds an in-flight job.
func (w *Worker) Working() bool {
	tubes := w.Tubes()
	for i := 0; i < len(tubes); i++ {
		if tubes[i].Working() {
			return true
		}
	}

	return false
}

// Watchers returns the state of every watcher.
func (w *Worker) Watchers() []*WatcherState {
	var states []*WatcherState

	tubes := w.Tubes()
	for i := 0; i < len(tubes); i++ {
		watchers := tubes[i].Watchers()
		for j := 0; j < len(watchers); j++ {
			states = append(states, watchers[j].State())
		}
	}

	return states
}

func (w *Worker) report(err error) {
	w.errHandler(err)
}
