package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is a process-local Queue for tests and single-node development. Jobs do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*memoryList
	closed bool
	done   chan struct{}
	now    func() time.Time
}

type memoryList struct {
	pending  []*Job // sorted by RunAt, stable for equal times
	inflight map[string]*Job
	wake     chan struct{} // closed and replaced on every enqueue
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues: map[string]*memoryList{},
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

func (q *MemoryQueue) list(name string) *memoryList {
	l, ok := q.queues[name]
	if !ok {
		l = &memoryList{inflight: map[string]*Job{}, wake: make(chan struct{})}
		q.queues[name] = l
	}
	return l
}

// Enqueue inserts the job in run-time order
func (q *MemoryQueue) Enqueue(ctx context.Context, queue string, payload interface{}, delay time.Duration) (string, error) {
	job, err := newJob(queue, payload, delay, q.now())
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	l := q.list(queue)
	idx := sort.Search(len(l.pending), func(i int) bool { return l.pending[i].RunAt.After(job.RunAt) })
	l.pending = append(l.pending, nil)
	copy(l.pending[idx+1:], l.pending[idx:])
	l.pending[idx] = job
	close(l.wake)
	l.wake = make(chan struct{})
	q.mu.Unlock()

	return job.ID, nil
}

// Dequeue returns the earliest due job, sleeping until one is due
func (q *MemoryQueue) Dequeue(ctx context.Context, queue string) (*Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		l := q.list(queue)
		wait := time.Hour
		if len(l.pending) > 0 {
			head := l.pending[0]
			wait = head.RunAt.Sub(q.now())
			if wait <= 0 {
				l.pending = l.pending[1:]
				l.inflight[head.ID] = head
				q.mu.Unlock()
				return head, nil
			}
		}
		wake := l.wake
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.done:
			timer.Stop()
			return nil, ErrClosed
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack forgets a delivered job
func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.list(job.Queue).inflight, job.ID)
	return nil
}

// Pending returns a snapshot of the jobs not yet delivered, in run-time order
func (q *MemoryQueue) Pending(queue string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.list(queue)
	out := make([]Job, len(l.pending))
	for i, job := range l.pending {
		out[i] = *job
	}
	return out
}

// InFlight counts delivered but un-acked jobs
func (q *MemoryQueue) InFlight(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.list(queue).inflight)
}

// Close wakes every blocked Dequeue with ErrClosed
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
