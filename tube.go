package tubes

import (
	"context"
	"sync"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const commandPurpose string = "command"

// Tube is a named queue. It owns the watchers consuming it and a command
// session used to put and inspect jobs.
type Tube struct {
	name   string
	worker *Worker
	log    *zap.Logger

	mu       sync.RWMutex
	running  bool
	width    int
	watchers []*Watcher
}

func newTube(name string, w *Worker) *Tube {
	return &Tube{
		name:   name,
		worker: w,
		log:    w.log.With(zap.String("tube", name)),
	}
}

func (t *Tube) Name() string {
	return t.name
}

// Running reports whether the watchers of the tube are scheduled.
func (t *Tube) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Width is the number of watchers created per Handle call.
func (t *Tube) Width() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.width == 0 {
		return defaultWidth
	}
	return t.width
}

// connection resolves the session of the tube used for purpose. The command
// session is switched to the tube before it is returned.
func (t *Tube) connection(ctx context.Context, purpose string) (*Session, error) {
	s, err := t.worker.connection(ctx, t.name+"/"+purpose)
	if err != nil {
		return nil, err
	}

	if purpose != commandPurpose {
		return s, nil
	}

	err = s.use(ctx, t.name)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Command runs fn on the command session of the tube.
func (t *Tube) Command(ctx context.Context, fn func(ctx context.Context, c queue.Client) error) error {
	s, err := t.connection(ctx, commandPurpose)
	if err != nil {
		return err
	}

	return s.Do(ctx, fn)
}

// Handle creates the watchers running handler. The first non-zero width set
// on the tube decides how many watchers every call creates. Watchers created
// on a running tube are started right away.
func (t *Tube) Handle(handler Handler, opts *HandleOptions) error {
	const op = errors.Op("tubes_tube_handle")

	if handler == nil {
		return errors.E(op, errors.Str("handler can't be nil"))
	}

	if opts == nil {
		opts = &HandleOptions{}
	}

	// do not mutate options shared between tubes
	o := *opts
	if opts.Backoff != nil {
		b := *opts.Backoff
		o.Backoff = &b
	}
	o.InitDefaults()

	t.mu.Lock()
	if t.width == 0 && o.Width > 0 {
		t.width = o.Width
	}

	width := t.width
	if width == 0 {
		width = defaultWidth
	}

	created := make([]*Watcher, 0, width)
	for i := 0; i < width; i++ {
		w := newWatcher(len(t.watchers), t, handler, &o)
		t.watchers = append(t.watchers, w)
		created = append(created, w)
	}
	running := t.running
	t.mu.Unlock()

	t.log.Debug("handler registered", zap.Int("watchers", width), zap.Int("tries", o.Tries))

	if running {
		for i := 0; i < len(created); i++ {
			created[i].start()
		}
	}

	return nil
}

// Start schedules the reservation loops of every watcher.
func (t *Tube) Start() {
	t.mu.Lock()
	t.running = true
	watchers := make([]*Watcher, len(t.watchers))
	copy(watchers, t.watchers)
	t.mu.Unlock()

	for i := 0; i < len(watchers); i++ {
		watchers[i].start()
	}

	t.log.Debug("tube started", zap.Int("watchers", len(watchers)))
}

// Stop halts the reservation loops and waits for in-flight jobs to settle.
// Errors of individual watchers are logged only.
func (t *Tube) Stop(ctx context.Context) {
	t.mu.Lock()
	t.running = false
	watchers := make([]*Watcher, len(t.watchers))
	copy(watchers, t.watchers)
	t.mu.Unlock()

	g := &errgroup.Group{}
	for i := 0; i < len(watchers); i++ {
		w := watchers[i]
		g.Go(func() error {
			return w.Stop(ctx)
		})
	}

	err := g.Wait()
	if err != nil {
		t.log.Warn("tube stopped with errors", zap.Error(err))
		return
	}

	t.log.Debug("tube stopped")
}

// Working reports whether any watcher holds an in-flight job.
func (t *Tube) Working() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := 0; i < len(t.watchers); i++ {
		if t.watchers[i].Current() != nil {
			return true
		}
	}

	return false
}

// Watchers returns a copy of the watchers of the tube.
func (t *Tube) Watchers() []*Watcher {
	t.mu.RLock()
	defer t.mu.RUnlock()

	watchers := make([]*Watcher, len(t.watchers))
	copy(watchers, t.watchers)
	return watchers
}
