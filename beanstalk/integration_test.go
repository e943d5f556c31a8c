package beanstalk

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roadrunner-server/tubes/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTest connects to the server named by BEANSTALKD_ADDR, the test is skipped otherwise.
func dialTest(t *testing.T) queue.Client {
	t.Helper()

	addr := os.Getenv("BEANSTALKD_ADDR")
	if addr == "" {
		t.Skip("BEANSTALKD_ADDR is not set")
	}

	d, err := NewDialer(addr, 5*time.Second)
	require.NoError(t, err)

	c, err := d.Dial(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Quit()
	})

	return c
}

func TestIntegrationPutReserveDelete(t *testing.T) {
	c := dialTest(t)
	ctx := context.Background()
	tube := "tubes-test-" + uuid.NewString()[:8]

	require.NoError(t, c.Use(ctx, tube))
	require.NoError(t, c.Watch(ctx, tube))
	require.NoError(t, c.Ignore(ctx, "default"))

	id, err := c.Put(ctx, 100, 0, 10*time.Second, []byte(`{"payload":1}`))
	require.NoError(t, err)

	rid, body, err := c.ReserveWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, rid)
	assert.Equal(t, `{"payload":1}`, string(body))

	st, err := c.StatsJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateReserved, st.State)
	assert.Equal(t, 1, st.Reserves)
	assert.Equal(t, 10*time.Second, st.TTR)

	require.NoError(t, c.Touch(ctx, id))
	require.NoError(t, c.Release(ctx, id, 200, time.Second))

	st, err = c.StatsJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, st.State)
	assert.Equal(t, uint32(200), st.Priority)

	require.NoError(t, c.Destroy(ctx, id))

	_, err = c.StatsJob(ctx, id)
	require.ErrorIs(t, err, queue.ErrNotFound)

	_, _, err = c.ReserveWithTimeout(ctx, 0)
	require.ErrorIs(t, err, queue.ErrTimedOut)
}

func TestIntegrationBury(t *testing.T) {
	c := dialTest(t)
	ctx := context.Background()
	tube := "tubes-test-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	require.NoError(t, c.Use(ctx, tube))
	require.NoError(t, c.Watch(ctx, tube))
	require.NoError(t, c.Ignore(ctx, "default"))

	id, err := c.Put(ctx, 100, 0, 10*time.Second, []byte(`{}`))
	require.NoError(t, err)

	_, _, err = c.ReserveWithTimeout(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, c.Bury(ctx, id, 100))

	st, err := c.StatsJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateBuried, st.State)

	require.NoError(t, c.Destroy(ctx, id))
}
