package tubes

import (
	"context"
	stderr "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/internal/memq"
	"github.com/roadrunner-server/tubes/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionSingleDial(t *testing.T) {
	srv := memq.NewServer()
	var dials atomic.Int32

	slow := queue.DialerFunc(func(ctx context.Context) (queue.Client, error) {
		dials.Add(1)
		time.Sleep(50 * time.Millisecond)
		return srv.Dial(ctx)
	})

	w := NewWorker(slow)
	defer w.Stop(context.Background())

	sessions := make([]*Session, 10)
	wg := sync.WaitGroup{}
	for i := 0; i < len(sessions); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := w.connection(context.Background(), "emails/command")
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
	for i := 1; i < len(sessions); i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestConnectionReplacesClosedSession(t *testing.T) {
	srv := memq.NewServer()
	w := NewWorker(srv)
	defer w.Stop(context.Background())

	ctx := context.Background()
	first, err := w.connection(ctx, "emails/command")
	require.NoError(t, err)

	again, err := w.connection(ctx, "emails/command")
	require.NoError(t, err)
	assert.Same(t, first, again)

	// a transport failure closes the session
	err = first.Do(ctx, func(context.Context, queue.Client) error {
		return stderr.New("broken pipe")
	})
	require.Error(t, err)
	assert.True(t, first.Closed())

	second, err := w.connection(ctx, "emails/command")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, srv.Dials())

	require.ErrorIs(t, first.Do(ctx, func(context.Context, queue.Client) error {
		return nil
	}), ErrSessionClosed)
}

func TestSessionKeepsOpenOnReplies(t *testing.T) {
	srv := memq.NewServer()
	w := NewWorker(srv)
	defer w.Stop(context.Background())

	ctx := context.Background()
	s, err := w.connection(ctx, "emails/command")
	require.NoError(t, err)

	err = s.Do(ctx, func(ctx context.Context, c queue.Client) error {
		_, err := c.StatsJob(ctx, 42)
		return err
	})
	require.ErrorIs(t, err, queue.ErrNotFound)
	assert.False(t, s.Closed())
}

func TestConnectTimeout(t *testing.T) {
	srv := memq.NewServer()
	late := make(chan queue.Client, 1)

	// ignores the context on purpose
	stuck := queue.DialerFunc(func(context.Context) (queue.Client, error) {
		time.Sleep(300 * time.Millisecond)
		c, err := srv.Dial(context.Background())
		late <- c
		return c, err
	})

	w := NewWorker(stuck, WithConnectTimeout(50*time.Millisecond))
	defer w.Stop(context.Background())

	start := time.Now()
	_, err := w.connection(context.Background(), "emails/command")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.True(t, errors.Is(errors.TimeOut, err))
	assert.Contains(t, err.Error(), "timed out connecting to beanstalkd (50ms)")

	// the late session is closed, nobody owns it
	c := <-late
	require.Eventually(t, func() bool {
		return c.(*memq.Client).Closed()
	}, time.Second, 10*time.Millisecond)
}

func TestTubeCommandUsesTube(t *testing.T) {
	srv := memq.NewServer()
	w, _ := testWorker(t, srv)

	job := spawn(t, w, "emails", map[string]string{"to": "john"}, nil)

	c, err := srv.Dial(context.Background())
	require.NoError(t, err)
	defer func() {
		_ = c.Quit()
	}()

	ctx := context.Background()
	require.NoError(t, c.Watch(ctx, "emails"))
	require.NoError(t, c.Ignore(ctx, "default"))

	id, _, err := c.ReserveWithTimeout(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, job.ID(), id)

	// the second spawn goes over the same command session, the other dial is ours
	spawn(t, w, "emails", map[string]string{"to": "jane"}, nil)
	assert.Equal(t, 2, srv.Dials())
}
