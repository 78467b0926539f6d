package upload

import (
	"context"
	"sync"
)

// sessionLocks serializes appends per upload ID. Appends to different
// uploads proceed in parallel; two appends to the same upload queue behind
// each other, with context cancellation honored while waiting.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the lock for id is held or ctx is done.
func (s *sessionLocks) acquire(ctx context.Context, id string) error {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.release(id, false)
		return ctx.Err()
	}
}

// releaseHeld unlocks id after a successful acquire.
func (s *sessionLocks) releaseHeld(id string) {
	s.release(id, true)
}

func (s *sessionLocks) release(id string, held bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		return
	}
	if held {
		<-l.ch
	}
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}
