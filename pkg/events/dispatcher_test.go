package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{} // when non-nil, Deliver waits on it
}

func (c *captureSink) Deliver(_ context.Context, ev Event) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(8, sink)

	d.Publish(New(TypeSessionCreated, "u1", "alice"))
	d.Publish(New(TypePlayable, "u1", "alice"))
	d.Close()

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, TypeSessionCreated, got[0].Type)
	assert.Equal(t, TypePlayable, got[1].Type)
	assert.EqualValues(t, 0, d.Dropped())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &captureSink{block: block}
	d := NewDispatcher(1, sink)

	// First event is picked up by the worker and parks in Deliver; the
	// second fills the buffer; everything after is dropped.
	d.Publish(New(TypeUploaded, "u1", "alice"))

	require.Eventually(t, func() bool {
		d.Publish(New(TypeUploaded, "u1", "alice"))
		return d.Dropped() > 0
	}, time.Second, 5*time.Millisecond)

	close(block)
	d.Close()
}

func TestDispatcherCloseDrains(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(16, sink)

	for i := 0; i < 10; i++ {
		d.Publish(New(TypeHDReady, "u1", "alice"))
	}
	d.Close()

	assert.Len(t, sink.snapshot(), 10)
}
