package tubes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{
		Tubes: map[string]*HandleOptions{
			"emails": nil,
			"images": {Width: 4, Tries: 5, Backoff: &Backoff{Initial: time.Second}},
		},
	}

	require.NoError(t, cfg.InitDefaults())

	assert.Equal(t, "tcp://127.0.0.1:11300", cfg.Addr)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10, cfg.Parallelism)

	emails := cfg.Tubes["emails"]
	require.NotNil(t, emails)
	assert.Equal(t, 0, emails.Width)
	assert.Equal(t, 3, emails.Tries)
	assert.Equal(t, time.Minute, emails.Backoff.Initial)
	assert.Equal(t, 1.5, emails.Backoff.Exponential)
	assert.Equal(t, time.Second, emails.ReconnectBackoff)

	images := cfg.Tubes["images"]
	assert.Equal(t, 4, images.Width)
	assert.Equal(t, 5, images.Tries)
	assert.Equal(t, time.Second, images.Backoff.Initial)
	assert.Equal(t, 1.5, images.Backoff.Exponential)
}

func TestConfigInvalid(t *testing.T) {
	cfg := &Config{Tubes: map[string]*HandleOptions{"": {}}}
	require.Error(t, cfg.InitDefaults())

	cfg = &Config{Tubes: map[string]*HandleOptions{"emails": {Width: -1}}}
	require.Error(t, cfg.InitDefaults())
}

func TestBackoffDelay(t *testing.T) {
	b := &Backoff{Initial: time.Second, Exponential: 1.5}

	assert.Equal(t, time.Second, b.Delay(1))
	// 1s * 1 * 1.5 rounded up
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 3*time.Second, b.Delay(3))

	b = &Backoff{Initial: time.Minute, Exponential: 1.5}
	assert.Equal(t, time.Minute, b.Delay(1))
	assert.Equal(t, 90*time.Second, b.Delay(2))
	assert.Equal(t, 180*time.Second, b.Delay(3))
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, time.Duration(0), ceilSeconds(0))
	assert.Equal(t, time.Duration(0), ceilSeconds(-time.Second))
	assert.Equal(t, time.Second, ceilSeconds(time.Millisecond))
	assert.Equal(t, 2*time.Second, ceilSeconds(1995*time.Millisecond))
	assert.Equal(t, 3*time.Second, ceilSeconds(3*time.Second))
}
