package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/reelhaven/reelhaven/internal/logger"
)

// Key layout. Ready keys sort by due time so the first valid iterator entry
// is the next deliverable job; leased keys sort by lease expiry for the
// sweeper.
//
//	q/ready/{dueUnixNano:020d}/{seq:012d}  -> json(Job)
//	q/leased/{expUnixNano:020d}/{seq:012d} -> json(Job)
const (
	readyPrefix  = "q/ready/"
	leasedPrefix = "q/leased/"
)

// BadgerQueue is a durable Queue backed by BadgerDB. Jobs survive restarts;
// leases held at crash time are recovered when they expire.
type BadgerQueue struct {
	db      *badger.DB
	ownsDB  bool
	maxSize int
	seq     atomic.Uint64

	wake chan struct{}

	closeOnce sync.Once
	sweepStop chan struct{}
	sweepDone chan struct{}
}

// BadgerQueueConfig configures a durable queue.
type BadgerQueueConfig struct {
	// Path is the BadgerDB directory.
	Path string

	// MaxSize bounds ready plus leased jobs. <= 0 means unbounded.
	MaxSize int

	// InMemory runs badger without disk persistence. Tests only.
	InMemory bool
}

// NewBadgerQueue opens (or creates) the queue database.
func NewBadgerQueue(cfg BadgerQueueConfig) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithInMemory(cfg.InMemory)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	q := newBadgerQueue(db, cfg.MaxSize)
	q.ownsDB = true
	return q, nil
}

// NewBadgerQueueWithDB wraps an existing handle. The caller keeps ownership
// of the database.
func NewBadgerQueueWithDB(db *badger.DB, maxSize int) *BadgerQueue {
	return newBadgerQueue(db, maxSize)
}

func newBadgerQueue(db *badger.DB, maxSize int) *BadgerQueue {
	q := &BadgerQueue{
		db:        db,
		maxSize:   maxSize,
		wake:      make(chan struct{}, 1),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	q.seq.Store(uint64(time.Now().UnixNano())) // avoid key reuse across restarts
	go q.sweepExpiredLeases()
	return q
}

func (q *BadgerQueue) readyKey(due time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d/%012d", readyPrefix, due.UnixNano(), q.seq.Add(1)))
}

func (q *BadgerQueue) leasedKey(expiry time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d/%012d", leasedPrefix, expiry.UnixNano(), q.seq.Add(1)))
}

// keyDeadline parses the nanosecond timestamp out of a ready or leased key.
func keyDeadline(key, prefix []byte) (time.Time, error) {
	rest := key[len(prefix):]
	var nanos int64
	var seq uint64
	if _, err := fmt.Sscanf(string(rest), "%d/%d", &nanos, &seq); err != nil {
		return time.Time{}, fmt.Errorf("malformed queue key %q: %w", key, err)
	}
	return time.Unix(0, nanos), nil
}

func (q *BadgerQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.maxSize > 0 {
		if n, err := q.Len(ctx); err != nil {
			return err
		} else if n >= q.maxSize {
			return ErrQueueFull
		}
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	due := job.EarliestRunAt
	if due.IsZero() {
		due = time.Now()
	}

	value, err := json.Marshal(job)
	if err != nil {
		return err
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(q.readyKey(due), value)
	})
	if err == badger.ErrDBClosed {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	q.notify()
	return nil
}

func (q *BadgerQueue) Lease(ctx context.Context, visibility time.Duration) (*Lease, error) {
	for {
		lease, wait, err := q.tryLease(visibility)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}

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

// tryLease moves the first due ready job into the leased keyspace. When no
// job is due it returns how long until the next one is.
func (q *BadgerQueue) tryLease(visibility time.Duration) (*Lease, time.Duration, error) {
	var lease *Lease
	var wait time.Duration

	err := q.db.Update(func(txn *badger.Txn) error {
		var job Job
		var readyKey []byte

		// Find the first due job, then mutate after the iterator is closed.
		err := func() error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(readyPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			it.Seek(opts.Prefix)
			if !it.ValidForPrefix(opts.Prefix) {
				return nil
			}

			item := it.Item()
			due, err := keyDeadline(item.Key(), []byte(readyPrefix))
			if err != nil {
				return err
			}
			if due.After(time.Now()) {
				wait = time.Until(due)
				return nil
			}

			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			readyKey = append([]byte{}, item.Key()...)
			return nil
		}()
		if err != nil || readyKey == nil {
			return err
		}

		leasedKey := q.leasedKey(time.Now().Add(visibility))
		value, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := txn.Set(leasedKey, value); err != nil {
			return err
		}
		if err := txn.Delete(readyKey); err != nil {
			return err
		}

		lease = &Lease{Job: job, token: string(leasedKey)}
		return nil
	})
	if err == badger.ErrDBClosed {
		return nil, 0, ErrClosed
	}
	return lease, wait, err
}

func (q *BadgerQueue) Ack(ctx context.Context, lease *Lease) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(lease.token))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err == badger.ErrDBClosed {
		return ErrClosed
	}
	return err
}

func (q *BadgerQueue) Nack(ctx context.Context, lease *Lease, backoff time.Duration) error {
	job := lease.Job
	job.Attempt++
	job.EarliestRunAt = time.Now().UTC().Add(backoff)

	value, err := json.Marshal(job)
	if err != nil {
		return err
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		// If the lease already expired the sweeper requeued it; dropping the
		// stale leased record is all that is left to do.
		if _, err := txn.Get([]byte(lease.token)); err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}

		if err := txn.Delete([]byte(lease.token)); err != nil {
			return err
		}
		return txn.Set(q.readyKey(job.EarliestRunAt), value)
	})
	if err == badger.ErrDBClosed {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	q.notify()
	return nil
}

func (q *BadgerQueue) Len(ctx context.Context) (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("q/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			count++
		}
		return nil
	})
	if err == badger.ErrDBClosed {
		return 0, ErrClosed
	}
	return count, err
}

func (q *BadgerQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.sweepStop)
		<-q.sweepDone
		if q.ownsDB {
			err = q.db.Close()
		}
	})
	return err
}

func (q *BadgerQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// sweepExpiredLeases moves expired leased jobs back to ready with their
// attempt count incremented.
func (q *BadgerQueue) sweepExpiredLeases() {
	defer close(q.sweepDone)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.sweepStop:
			return
		case <-ticker.C:
		}

		if err := q.requeueExpired(); err != nil && err != ErrClosed {
			logger.Warn("queue lease sweep failed", logger.Err(err))
		}
	}
}

func (q *BadgerQueue) requeueExpired() error {
	err := q.db.Update(func(txn *badger.Txn) error {
		now := time.Now()
		var expired []Job
		var keysToDelete [][]byte

		// Collect first, mutate after the iterator is closed.
		err := func() error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(leasedPrefix)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				item := it.Item()
				expiry, err := keyDeadline(item.Key(), []byte(leasedPrefix))
				if err != nil {
					return err
				}
				if expiry.After(now) {
					// Leased keys sort by expiry; the rest are still live.
					break
				}

				var job Job
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &job)
				}); err != nil {
					return err
				}
				expired = append(expired, job)
				keysToDelete = append(keysToDelete, append([]byte{}, item.Key()...))
			}
			return nil
		}()
		if err != nil {
			return err
		}

		for i, job := range expired {
			job.Attempt++
			value, err := json.Marshal(job)
			if err != nil {
				return err
			}
			if err := txn.Set(q.readyKey(now), value); err != nil {
				return err
			}
			if err := txn.Delete(keysToDelete[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err == badger.ErrDBClosed {
		return ErrClosed
	}
	if err == nil {
		q.notify()
	}
	return err
}

var _ Queue = (*BadgerQueue)(nil)
