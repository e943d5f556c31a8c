package memq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadrunner-server/tubes/queue"
)

func dial(t *testing.T, s *Server, tube string) queue.Client {
	t.Helper()
	c, err := s.Dial(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Use(context.Background(), tube))
	require.NoError(t, c.Watch(context.Background(), tube))
	require.NoError(t, c.Ignore(context.Background(), defaultTube))
	return c
}

func TestReserveHonorsPriorityAndDelay(t *testing.T) {
	s := NewServer()
	c := dial(t, s, "t")
	ctx := context.Background()

	late, err := c.Put(ctx, 1, time.Second, time.Minute, []byte(`"late"`))
	require.NoError(t, err)
	low, err := c.Put(ctx, 100, 0, time.Minute, []byte(`"low"`))
	require.NoError(t, err)
	high, err := c.Put(ctx, 10, 0, time.Minute, []byte(`"high"`))
	require.NoError(t, err)

	id, _, err := c.ReserveWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, high, id)

	id, _, err = c.ReserveWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, low, id)

	st, err := c.StatsJob(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, st.State)
	assert.Equal(t, time.Second, st.Delay)
}

func TestReserveTimesOut(t *testing.T) {
	s := NewServer()
	c := dial(t, s, "empty")

	_, _, err := c.ReserveWithTimeout(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, queue.ErrTimedOut)
}

func TestTTRExpiryAndTouch(t *testing.T) {
	s := NewServer()
	c := dial(t, s, "ttr")
	ctx := context.Background()

	id, err := c.Put(ctx, 0, 0, time.Second, []byte(`{}`))
	require.NoError(t, err)

	_, _, err = c.ReserveWithTimeout(ctx, time.Second)
	require.NoError(t, err)

	time.Sleep(600 * time.Millisecond)
	require.NoError(t, c.Touch(ctx, id))
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, queue.StateReserved, s.Stats(id).State)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, queue.StateReady, s.Stats(id).State)
	assert.ErrorIs(t, c.Touch(ctx, id), queue.ErrNotFound)
}

func TestQuitReleasesReservations(t *testing.T) {
	s := NewServer()
	c := dial(t, s, "quit")
	ctx := context.Background()

	id, err := c.Put(ctx, 0, 0, time.Minute, []byte(`{}`))
	require.NoError(t, err)
	_, _, err = c.ReserveWithTimeout(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Quit())
	assert.Equal(t, queue.StateReady, s.Stats(id).State)
	assert.ErrorIs(t, c.Touch(ctx, id), ErrClosed)
	assert.False(t, queue.IsReply(ErrClosed))
}
