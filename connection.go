package tubes

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/tubes/queue"
	"go.uber.org/zap"
)

const defaultTube string = "default"

// Session is a queue server session bound to a logical id. Calls on one
// session are strictly sequential.
type Session struct {
	id     string
	mu     sync.Mutex
	client queue.Client
	closed atomic.Bool

	// tube selected with use, command sessions only
	using string
	// tube watched with the default tube ignored, watcher sessions only
	watching string
}

func newSession(id string, client queue.Client) *Session {
	return &Session{
		id:     id,
		client: client,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Closed reports whether the session was quit or lost its transport.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Do runs fn with exclusive access to the session client. Transport errors
// mark the session closed, protocol replies don't.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, c queue.Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.do(ctx, fn)
}

func (s *Session) do(ctx context.Context, fn func(ctx context.Context, c queue.Client) error) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	err := fn(ctx, s.client)
	if err != nil && !queue.IsReply(err) {
		s.closed.Store(true)
	}

	return err
}

// use selects the tube for puts, skipped when the session already uses it.
func (s *Session) use(ctx context.Context, tube string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.using == tube {
		return nil
	}

	err := s.do(ctx, func(ctx context.Context, c queue.Client) error {
		return c.Use(ctx, tube)
	})
	if err != nil {
		return err
	}

	s.using = tube
	return nil
}

// watch makes the tube the only one reserved from, skipped when already done.
func (s *Session) watch(ctx context.Context, tube string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watching == tube {
		return nil
	}

	err := s.do(ctx, func(ctx context.Context, c queue.Client) error {
		err := c.Watch(ctx, tube)
		if err != nil {
			return err
		}

		if tube == defaultTube {
			return nil
		}

		return c.Ignore(ctx, defaultTube)
	})
	if err != nil {
		return err
	}

	s.watching = tube
	return nil
}

func (s *Session) quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	return s.client.Quit()
}

type dialResult struct {
	client queue.Client
	err    error
}

// connection returns the live session for id, dialing a new one when there is
// none or the cached one is closed. Concurrent callers share a single dial.
func (w *Worker) connection(ctx context.Context, id string) (*Session, error) {
	const op = errors.Op("tubes_connection")

	if s := w.cachedSession(id); s != nil {
		return s, nil
	}

	ch := w.dials.DoChan(id, func() (any, error) {
		if s := w.cachedSession(id); s != nil {
			return s, nil
		}

		client, err := w.dial(ctx)
		if err != nil {
			return nil, err
		}

		s := newSession(id, client)

		w.mu.Lock()
		w.conns[id] = s
		w.mu.Unlock()

		w.log.Debug("session established", zap.String("session", id))
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.E(op, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, errors.E(op, res.Err)
		}
		return res.Val.(*Session), nil
	}
}

// dial opens a client, bounded by the connect timeout even if the dialer ignores its context.
func (w *Worker) dial(ctx context.Context) (queue.Client, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.connectTimeout)
	defer cancel()

	res := make(chan dialResult, 1)
	go func() {
		c, err := w.dialer.Dial(ctx)
		res <- dialResult{client: c, err: err}
	}()

	select {
	case r := <-res:
		if r.err != nil && ctx.Err() != nil {
			return nil, w.connectTimeoutErr()
		}
		return r.client, r.err
	case <-ctx.Done():
		go func() {
			// the dial completed too late, nobody owns the client
			r := <-res
			if r.client != nil {
				_ = r.client.Quit()
			}
		}()
		return nil, w.connectTimeoutErr()
	}
}

func (w *Worker) connectTimeoutErr() error {
	return errors.E(errors.TimeOut, errors.Errorf("timed out connecting to beanstalkd (%dms)", w.connectTimeout.Milliseconds()))
}

func (w *Worker) cachedSession(id string) *Session {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.conns[id]
	if !ok {
		return nil
	}

	if s.Closed() {
		delete(w.conns, id)
		w.log.Debug("session closed, reconnecting", zap.String("session", id))
		go func() {
			_ = s.quit()
		}()
		return nil
	}

	return s
}

// closeSessions quits and forgets every session but the ones listed in keep.
func (w *Worker) closeSessions(keep map[string]struct{}) {
	w.mu.Lock()
	sessions := make([]*Session, 0, len(w.conns))
	for id, s := range w.conns {
		if _, ok := keep[id]; ok {
			w.log.Debug("session kept open, job still running", zap.String("session", id))
			continue
		}

		sessions = append(sessions, s)
		delete(w.conns, id)
	}
	w.mu.Unlock()

	for i := 0; i < len(sessions); i++ {
		err := sessions[i].quit()
		if err != nil {
			w.log.Debug("failed to quit session", zap.String("session", sessions[i].ID()), zap.Error(err))
		}
	}
}
