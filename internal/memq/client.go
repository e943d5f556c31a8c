package memq

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/roadrunner-server/tubes/queue"
)

// Client is one session on a Server.
type Client struct {
	srv     *Server
	closed  atomic.Bool
	using   string
	watched map[string]struct{}
}

var _ queue.Client = (*Client)(nil)

func (c *Client) Use(ctx context.Context, tube string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.using = tube
	return nil
}

func (c *Client) Watch(ctx context.Context, tube string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.watched[tube] = struct{}{}
	return nil
}

func (c *Client) Ignore(ctx context.Context, tube string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	if _, ok := c.watched[tube]; ok && len(c.watched) == 1 {
		return &queue.ServerError{Op: "ignore", Reply: "NOT_IGNORED"}
	}
	delete(c.watched, tube)
	return nil
}

func (c *Client) Put(ctx context.Context, priority uint32, delay, ttr time.Duration, body []byte) (uint64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	return c.srv.Put(c.using, priority, delay, ttr, body), nil
}

func (c *Client) ReserveWithTimeout(ctx context.Context, timeout time.Duration) (uint64, []byte, error) {
	if err := c.check(ctx); err != nil {
		return 0, nil, err
	}

	end := time.Now().Add(timeout)
	for {
		j, err := c.srv.reserve(c)
		if err != nil {
			return 0, nil, err
		}
		if j != nil {
			return j.id, append([]byte(nil), j.body...), nil
		}

		if !time.Now().Before(end) {
			return 0, nil, queue.ErrTimedOut
		}

		select {
		case <-ctx.Done():
			// the server would drop an interrupted session
			c.closed.Store(true)
			return 0, nil, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

func (c *Client) StatsJob(ctx context.Context, id uint64) (*queue.Stats, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	st := c.srv.Stats(id)
	if st == nil {
		return nil, queue.ErrNotFound
	}
	return st, nil
}

func (c *Client) Touch(ctx context.Context, id uint64) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	j, err := c.srv.owned(c, id)
	if err != nil {
		return err
	}
	j.deadline = time.Now().Add(j.ttr)
	return nil
}

func (c *Client) Release(ctx context.Context, id uint64, priority uint32, delay time.Duration) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	j, err := c.srv.owned(c, id)
	if err != nil {
		return err
	}

	j.owner = nil
	j.priority = priority
	j.delay = delay
	j.state = queue.StateReady
	if delay > 0 {
		j.state = queue.StateDelayed
		j.readyAt = time.Now().Add(delay)
	}
	return nil
}

func (c *Client) Bury(ctx context.Context, id uint64, priority uint32) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	j, err := c.srv.owned(c, id)
	if err != nil {
		return err
	}

	j.owner = nil
	j.priority = priority
	j.state = queue.StateBuried
	return nil
}

func (c *Client) Destroy(ctx context.Context, id uint64) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.tick(time.Now())

	j, ok := c.srv.jobs[id]
	if !ok || (j.state == queue.StateReserved && j.owner != c) {
		return queue.ErrNotFound
	}

	delete(c.srv.jobs, id)
	return nil
}

func (c *Client) Quit() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	c.srv.releaseOwned(c)
	return nil
}

// Closed reports whether Quit was called or a reserve was interrupted.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

func (c *Client) check(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}
