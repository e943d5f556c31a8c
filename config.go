package tubes

import (
	"math"
	"time"

	"github.com/roadrunner-server/errors"
)

const (
	defaultAddr           string        = "tcp://127.0.0.1:11300"
	defaultConnectTimeout time.Duration = 10 * time.Second
	defaultParallelism    int           = 10

	defaultWidth              int           = 1
	defaultTries              int           = 3
	defaultBackoffInitial     time.Duration = time.Minute
	defaultBackoffExponential float64       = 1.5
	defaultReconnectBackoff   time.Duration = time.Second
)

// Config defines the plugin settings.
type Config struct {
	// Addr of the beanstalkd server: tcp://host:port, unix:///path or host:port
	Addr string `mapstructure:"addr"`
	// ConnectTimeout bounds every new session, default 10s
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// Parallelism limits fan-out of batched RPC spawns
	Parallelism int `mapstructure:"parallelism"`
	// Consume specifies tubes to be consumed on start, all tubes with handlers when empty
	Consume []string `mapstructure:"consume"`
	// Tubes contains per tube handling options, keys are tube names
	Tubes map[string]*HandleOptions `mapstructure:"tubes"`
}

// HandleOptions configures the watchers created by a single Handle call.
type HandleOptions struct {
	// Width is the number of watchers, only the first non-zero width set on a tube is used
	Width int `mapstructure:"width"`
	// Tries is the number of reservations after which a failing job is buried, default 3
	Tries int `mapstructure:"tries"`
	// Backoff configures the delay of released failing jobs
	Backoff *Backoff `mapstructure:"backoff"`
	// ReconnectBackoff is the pause between two reservations of one watcher, default 1s
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

type Backoff struct {
	// Initial delay of the first retry, default 60s
	Initial time.Duration `mapstructure:"initial"`
	// Exponential factor applied from the second retry, default 1.5
	Exponential float64 `mapstructure:"exponential"`
}

func (c *Config) InitDefaults() error {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}

	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}

	if c.Tubes == nil {
		c.Tubes = make(map[string]*HandleOptions)
	}

	for name, opts := range c.Tubes {
		if name == "" {
			return errors.Str("tube name can't be empty")
		}

		if opts == nil {
			opts = &HandleOptions{}
			c.Tubes[name] = opts
		}

		if opts.Width < 0 {
			return errors.Errorf("tube width can't be negative, tube: %s, width: %d", name, opts.Width)
		}

		opts.InitDefaults()
	}

	return nil
}

// InitDefaults fills everything but the width, which is resolved by the tube.
func (o *HandleOptions) InitDefaults() {
	if o.Tries <= 0 {
		o.Tries = defaultTries
	}

	if o.Backoff == nil {
		o.Backoff = &Backoff{}
	}

	if o.Backoff.Initial <= 0 {
		o.Backoff.Initial = defaultBackoffInitial
	}

	if o.Backoff.Exponential <= 0 {
		o.Backoff.Exponential = defaultBackoffExponential
	}

	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = defaultReconnectBackoff
	}
}

// Delay returns the release delay for a job reserved `reserves` times, rounded up to whole seconds.
func (b *Backoff) Delay(reserves int) time.Duration {
	secs := b.Initial.Seconds()
	if reserves > 1 {
		secs = secs * float64(reserves-1) * b.Exponential
	}

	return time.Duration(math.Ceil(secs)) * time.Second
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}

	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}
