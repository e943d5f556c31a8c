package tubes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roadrunner-server/tubes/queue"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const fastBackoff = 10 * time.Millisecond

// testWorker builds a worker over the dialer (usually an in-memory server),
// stopped on cleanup.
func testWorker(t *testing.T, srv queue.Dialer, opts ...Option) (*Worker, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	opts = append([]Option{WithLogger(zap.New(core))}, opts...)

	w := NewWorker(srv, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.Stop(ctx)
	})

	return w, logs
}

func fastOptions() *HandleOptions {
	return &HandleOptions{ReconnectBackoff: fastBackoff}
}

func waitDone(t *testing.T, w *Worker, job *Job, timeout time.Duration) error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return w.Done(ctx, job.Tube(), job.ID(), nil)
}

func spawn(t *testing.T, w *Worker, tube string, payload any, opts Options) *Job {
	t.Helper()

	job, err := w.Spawn(context.Background(), tube, payload, opts)
	require.NoError(t, err)
	return job
}

// errorSink collects the errors reported by a worker.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

// scriptedClient overrides single calls of an in-memory session.
type scriptedClient struct {
	queue.Client

	statsJob func(ctx context.Context, id uint64) (*queue.Stats, error)
	release  func(ctx context.Context, id uint64, priority uint32, delay time.Duration) error
}

func (c *scriptedClient) StatsJob(ctx context.Context, id uint64) (*queue.Stats, error) {
	if c.statsJob != nil {
		return c.statsJob(ctx, id)
	}
	return c.Client.StatsJob(ctx, id)
}

func (c *scriptedClient) Release(ctx context.Context, id uint64, priority uint32, delay time.Duration) error {
	if c.release != nil {
		return c.release(ctx, id, priority, delay)
	}
	return c.Client.Release(ctx, id, priority, delay)
}
