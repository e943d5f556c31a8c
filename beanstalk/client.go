package beanstalk

import (
	"context"
	stderr "errors"
	"net"
	"strconv"
	"time"

	gobeanstalk "github.com/beanstalkd/go-beanstalk"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/queue"
)

// client is a single beanstalkd session. Use, watch and ignore are sent
// lazily by the library before the next put or reserve.
type client struct {
	nc   net.Conn
	conn *gobeanstalk.Conn
}

var _ queue.Client = (*client)(nil)

func newClient(nc net.Conn) *client {
	return &client{
		nc:   nc,
		conn: gobeanstalk.NewConn(nc),
	}
}

func (c *client) Use(ctx context.Context, tube string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.conn.Tube.Name = tube
	return nil
}

func (c *client) Watch(ctx context.Context, tube string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.conn.TubeSet.Name[tube] = true
	return nil
}

func (c *client) Ignore(ctx context.Context, tube string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := c.conn.TubeSet.Name[tube]; ok && len(c.conn.TubeSet.Name) == 1 {
		return &queue.ServerError{Op: "ignore", Reply: "NOT_IGNORED"}
	}

	delete(c.conn.TubeSet.Name, tube)
	return nil
}

func (c *client) Put(ctx context.Context, priority uint32, delay, ttr time.Duration, body []byte) (uint64, error) {
	var id uint64
	err := c.call(ctx, func() error {
		var err error
		id, err = c.conn.Tube.Put(body, priority, delay, ttr)
		return err
	})

	return id, err
}

func (c *client) ReserveWithTimeout(ctx context.Context, timeout time.Duration) (uint64, []byte, error) {
	var id uint64
	var body []byte
	err := c.call(ctx, func() error {
		var err error
		id, body, err = c.conn.TubeSet.Reserve(timeout)
		return err
	})

	return id, body, err
}

func (c *client) StatsJob(ctx context.Context, id uint64) (*queue.Stats, error) {
	var dict map[string]string
	err := c.call(ctx, func() error {
		var err error
		dict, err = c.conn.StatsJob(id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return parseStats(dict)
}

func (c *client) Touch(ctx context.Context, id uint64) error {
	return c.call(ctx, func() error {
		return c.conn.Touch(id)
	})
}

func (c *client) Release(ctx context.Context, id uint64, priority uint32, delay time.Duration) error {
	return c.call(ctx, func() error {
		return c.conn.Release(id, priority, delay)
	})
}

func (c *client) Bury(ctx context.Context, id uint64, priority uint32) error {
	return c.call(ctx, func() error {
		return c.conn.Bury(id, priority)
	})
}

func (c *client) Destroy(ctx context.Context, id uint64) error {
	return c.call(ctx, func() error {
		return c.conn.Delete(id)
	})
}

func (c *client) Quit() error {
	return c.conn.Close()
}

// call applies the context to the network connection for the duration of fn.
func (c *client) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	_ = c.nc.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		// unblocks the pending read or write
		_ = c.nc.SetDeadline(time.Now())
	})
	defer stop()

	err := fn()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return mapError(err)
	}

	return nil
}

// mapError turns protocol replies into queue errors, anything else is a transport failure.
func mapError(err error) error {
	const op = errors.Op("beanstalk_client")

	var ce gobeanstalk.ConnError
	if !stderr.As(err, &ce) {
		return errors.E(op, err)
	}

	switch ce.Err { //nolint:errorlint
	case gobeanstalk.ErrTimeout:
		return queue.ErrTimedOut
	case gobeanstalk.ErrDeadline:
		return queue.ErrDeadlineSoon
	case gobeanstalk.ErrNotFound:
		return queue.ErrNotFound
	case gobeanstalk.ErrBuried:
		return &queue.ServerError{Op: ce.Op, Reply: "BURIED"}
	case gobeanstalk.ErrBadFormat:
		return &queue.ServerError{Op: ce.Op, Reply: "BAD_FORMAT"}
	case gobeanstalk.ErrDraining:
		return &queue.ServerError{Op: ce.Op, Reply: "DRAINING"}
	case gobeanstalk.ErrInternal:
		return &queue.ServerError{Op: ce.Op, Reply: "INTERNAL_ERROR"}
	case gobeanstalk.ErrJobTooBig:
		return &queue.ServerError{Op: ce.Op, Reply: "JOB_TOO_BIG"}
	case gobeanstalk.ErrNoCRLF:
		return &queue.ServerError{Op: ce.Op, Reply: "EXPECTED_CRLF"}
	case gobeanstalk.ErrNotIgnored:
		return &queue.ServerError{Op: ce.Op, Reply: "NOT_IGNORED"}
	case gobeanstalk.ErrOOM:
		return &queue.ServerError{Op: ce.Op, Reply: "OUT_OF_MEMORY"}
	case gobeanstalk.ErrUnknown:
		return &queue.ServerError{Op: ce.Op, Reply: "UNKNOWN_COMMAND"}
	default:
		return errors.E(op, err)
	}
}

func parseStats(dict map[string]string) (*queue.Stats, error) {
	const op = errors.Op("beanstalk_parse_stats")

	st := &queue.Stats{
		State: queue.State(dict["state"]),
	}

	ttr, err := strconv.ParseInt(dict["ttr"], 10, 64)
	if err != nil {
		return nil, errors.E(op, errors.Errorf("ttr: %v", err))
	}
	st.TTR = time.Duration(ttr) * time.Second

	st.Reserves, err = strconv.Atoi(dict["reserves"])
	if err != nil {
		return nil, errors.E(op, errors.Errorf("reserves: %v", err))
	}

	pri, err := strconv.ParseUint(dict["pri"], 10, 32)
	if err != nil {
		return nil, errors.E(op, errors.Errorf("pri: %v", err))
	}
	st.Priority = uint32(pri)

	delay, err := strconv.ParseInt(dict["delay"], 10, 64)
	if err != nil {
		return nil, errors.E(op, errors.Errorf("delay: %v", err))
	}
	st.Delay = time.Duration(delay) * time.Second

	return st, nil
}
