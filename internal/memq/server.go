// Package memq is an in-memory beanstalkd used by tests. It keeps the parts
// of the protocol the worker engine relies on: priorities, delays, TTR expiry
// with touch, bury, reserve counts and per-session reservations.
package memq

import (
	"context"
	stderr "errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roadrunner-server/tubes/queue"
)

const (
	defaultTube = "default"
	pollEvery   = 5 * time.Millisecond
	safetyLimit = time.Second
)

// ErrClosed is the transport error returned by a quit session.
var ErrClosed = stderr.New("memq: use of closed session")

type job struct {
	id       uint64
	tube     string
	priority uint32
	delay    time.Duration
	ttr      time.Duration
	body     []byte
	state    queue.State
	readyAt  time.Time
	deadline time.Time
	reserves int
	owner    *Client
}

// Server holds the jobs of every tube.
type Server struct {
	mu     sync.Mutex
	nextID uint64
	jobs   map[uint64]*job

	dials  atomic.Int64
	refuse atomic.Pointer[error]
}

func NewServer() *Server {
	return &Server{
		jobs: make(map[uint64]*job),
	}
}

// Refuse makes every following Dial fail with err, nil accepts dials again.
func (s *Server) Refuse(err error) {
	if err == nil {
		s.refuse.Store(nil)
		return
	}
	s.refuse.Store(&err)
}

// Dials returns the number of successful dials.
func (s *Server) Dials() int {
	return int(s.dials.Load())
}

// Dial implements queue.Dialer.
func (s *Server) Dial(ctx context.Context) (queue.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if errp := s.refuse.Load(); errp != nil {
		return nil, *errp
	}

	s.dials.Add(1)
	return &Client{
		srv:     s,
		using:   defaultTube,
		watched: map[string]struct{}{defaultTube: {}},
	}, nil
}

// Put enqueues a job directly, bypassing sessions.
func (s *Server) Put(tube string, priority uint32, delay, ttr time.Duration, body []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(tube, priority, delay, ttr, body)
}

// Stats returns the stats of a job, nil when it does not exist.
func (s *Server) Stats(id uint64) *queue.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick(time.Now())

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	return j.stats()
}

// Count returns the number of jobs in the given state across tubes.
func (s *Server) Count(state queue.State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick(time.Now())

	n := 0
	for _, j := range s.jobs {
		if j.state == state {
			n++
		}
	}
	return n
}

func (s *Server) put(tube string, priority uint32, delay, ttr time.Duration, body []byte) uint64 {
	s.nextID++
	if ttr < time.Second {
		ttr = time.Second
	}

	j := &job{
		id:       s.nextID,
		tube:     tube,
		priority: priority,
		delay:    delay,
		ttr:      ttr,
		body:     append([]byte(nil), body...),
		state:    queue.StateReady,
	}

	if delay > 0 {
		j.state = queue.StateDelayed
		j.readyAt = time.Now().Add(delay)
	}

	s.jobs[j.id] = j
	return j.id
}

// tick promotes delayed jobs and expires reservations, caller holds the lock.
func (s *Server) tick(now time.Time) {
	for _, j := range s.jobs {
		switch j.state { //nolint:exhaustive
		case queue.StateDelayed:
			if !now.Before(j.readyAt) {
				j.state = queue.StateReady
			}
		case queue.StateReserved:
			if !now.Before(j.deadline) {
				j.state = queue.StateReady
				j.owner = nil
			}
		}
	}
}

func (s *Server) reserve(c *Client) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.tick(now)

	for _, j := range s.jobs {
		if j.state == queue.StateReserved && j.owner == c && j.deadline.Sub(now) <= safetyLimit {
			return nil, queue.ErrDeadlineSoon
		}
	}

	candidates := make([]*job, 0, 4)
	for _, j := range s.jobs {
		if _, ok := c.watched[j.tube]; ok && j.state == queue.StateReady {
			candidates = append(candidates, j)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].priority != candidates[b].priority {
			return candidates[a].priority < candidates[b].priority
		}
		return candidates[a].id < candidates[b].id
	})

	j := candidates[0]
	j.state = queue.StateReserved
	j.owner = c
	j.reserves++
	j.deadline = now.Add(j.ttr)

	return j, nil
}

// owned returns the job reserved by c, caller holds the lock.
func (s *Server) owned(c *Client, id uint64) (*job, error) {
	s.tick(time.Now())

	j, ok := s.jobs[id]
	if !ok || j.state != queue.StateReserved || j.owner != c {
		return nil, queue.ErrNotFound
	}
	return j, nil
}

func (s *Server) releaseOwned(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.owner == c && j.state == queue.StateReserved {
			j.state = queue.StateReady
			j.owner = nil
		}
	}
}

func (j *job) stats() *queue.Stats {
	return &queue.Stats{
		State:    j.state,
		TTR:      j.ttr,
		Reserves: j.reserves,
		Priority: j.priority,
		Delay:    j.delay,
	}
}
