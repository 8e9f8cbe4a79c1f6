package throttle

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/rankme/internal/metrics"
)

// ticket is one request waiting for a host slot.
type ticket struct {
	priority int
	seq      uint64
	retry    bool
	ready    chan struct{}
	granted  bool
	index    int
}

// ticketQueue orders retries first, then by priority, then by arrival.
type ticketQueue []*ticket

func (q ticketQueue) Len() int { return len(q) }

func (q ticketQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.retry != b.retry {
		return a.retry
	}
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q ticketQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *ticketQueue) Push(x any) {
	t := x.(*ticket)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *ticketQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// scheduler serialises access to one host: at most limit requests in
// flight, dispatches spaced by the limiter, and no dispatch while paused.
type scheduler struct {
	host    string
	limiter *rate.Limiter
	metrics *metrics.Manager

	mu       sync.Mutex
	queue    ticketQueue
	seq      uint64
	active   int
	limit    int
	paused   bool
	interval time.Duration
}

func newScheduler(host string, rule HostRule, m *metrics.Manager) *scheduler {
	limit := rule.Concurrency
	if limit <= 0 {
		limit = 1
	}
	s := &scheduler{
		host:     host,
		limit:    limit,
		interval: rule.Interval,
		metrics:  m,
	}
	if rule.Interval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(rule.Interval), 1)
	} else {
		s.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return s
}

// acquire blocks until the request holds a slot.
func (s *scheduler) acquire(ctx context.Context, priority int) error {
	s.mu.Lock()
	t := s.pushLocked(priority, false)
	s.dispatchLocked()
	s.mu.Unlock()

	return s.wait(ctx, t)
}

// reacquire gives up the slot held during a backoff and queues the request
// again ahead of every first attempt.
func (s *scheduler) reacquire(ctx context.Context, priority int) error {
	s.mu.Lock()
	s.paused = false
	s.active--
	t := s.pushLocked(priority, true)
	s.dispatchLocked()
	s.mu.Unlock()

	return s.wait(ctx, t)
}

func (s *scheduler) wait(ctx context.Context, t *ticket) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		if t.granted {
			s.active--
		} else {
			heap.Remove(&s.queue, t.index)
		}
		s.dispatchLocked()
		s.mu.Unlock()
		return ctx.Err()
	}
}

// release frees a slot and lifts a pause, if any.
func (s *scheduler) release() {
	s.mu.Lock()
	s.paused = false
	s.active--
	s.dispatchLocked()
	s.mu.Unlock()
}

// pause stops dispatching until the slot holder releases or requeues.
func (s *scheduler) pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// widen raises the dispatch spacing to at least d.
func (s *scheduler) widen(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > s.interval {
		s.interval = d
		s.limiter.SetLimit(rate.Every(d))
	}
}

func (s *scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *scheduler) pushLocked(priority int, retry bool) *ticket {
	s.seq++
	t := &ticket{
		priority: priority,
		seq:      s.seq,
		retry:    retry,
		ready:    make(chan struct{}),
	}
	heap.Push(&s.queue, t)
	return t
}

func (s *scheduler) dispatchLocked() {
	for !s.paused && s.active < s.limit && s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*ticket)
		t.granted = true
		s.active++
		close(t.ready)
	}
	s.metrics.QueueDepth(s.host, s.queue.Len())
}
