package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for single-node deployments and tests.
// Jobs do not survive a restart; the startup sweep re-enqueues sessions that
// were mid-pipeline.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   jobHeap
	leased  map[string]*leasedJob
	wake    chan struct{}
	maxSize int
	seq     uint64
	closed  bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type leasedJob struct {
	job     Job
	expires time.Time
}

// NewMemoryQueue creates a bounded in-memory queue. maxSize <= 0 means
// unbounded.
func NewMemoryQueue(maxSize int) *MemoryQueue {
	q := &MemoryQueue{
		leased:    make(map[string]*leasedJob),
		wake:      make(chan struct{}, 1),
		maxSize:   maxSize,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go q.sweepExpiredLeases()
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.maxSize > 0 && len(q.ready)+len(q.leased) >= q.maxSize {
		return ErrQueueFull
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	heap.Push(&q.ready, job)
	q.notify()
	return nil
}

func (q *MemoryQueue) Lease(ctx context.Context, visibility time.Duration) (*Lease, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}

		now := time.Now()
		var wait time.Duration
		if len(q.ready) > 0 {
			next := q.ready[0]
			if !next.EarliestRunAt.After(now) {
				job := heap.Pop(&q.ready).(Job)
				q.seq++
				token := fmt.Sprintf("m-%d", q.seq)
				q.leased[token] = &leasedJob{job: job, expires: now.Add(visibility)}
				q.mu.Unlock()
				return &Lease{Job: job, token: token}, nil
			}
			wait = time.Until(next.EarliestRunAt)
		}
		q.mu.Unlock()

		if wait <= 0 || wait > time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, lease *Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, lease.token)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, lease *Lease, backoff time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	lj, ok := q.leased[lease.token]
	if !ok {
		// Lease already expired and was redelivered; nothing to do.
		return nil
	}
	delete(q.leased, lease.token)

	job := lj.job
	job.Attempt++
	job.EarliestRunAt = time.Now().UTC().Add(backoff)
	heap.Push(&q.ready, job)
	q.notify()
	return nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.leased), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.sweepStop)
	<-q.sweepDone
	return nil
}

// notify wakes one blocked Lease call.
func (q *MemoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// sweepExpiredLeases redelivers jobs whose visibility window lapsed without
// an Ack, preserving the attempt count so backoff still escalates.
func (q *MemoryQueue) sweepExpiredLeases() {
	defer close(q.sweepDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.sweepStop:
			return
		case <-ticker.C:
		}

		now := time.Now()
		q.mu.Lock()
		for token, lj := range q.leased {
			if lj.expires.After(now) {
				continue
			}
			delete(q.leased, token)
			job := lj.job
			job.Attempt++
			heap.Push(&q.ready, job)
		}
		if len(q.ready) > 0 {
			q.notify()
		}
		q.mu.Unlock()
	}
}

// jobHeap orders jobs by EarliestRunAt, then by enqueue time.
type jobHeap []Job

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if !h[i].EarliestRunAt.Equal(h[j].EarliestRunAt) {
		return h[i].EarliestRunAt.Before(h[j].EarliestRunAt)
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}

var _ Queue = (*MemoryQueue)(nil)
