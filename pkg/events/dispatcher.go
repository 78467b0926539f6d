package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelhaven/reelhaven/internal/logger"
)

// DefaultBufferSize is the dispatcher queue depth.
const DefaultBufferSize = 1024

// deliverTimeout bounds how long a single sink delivery may take.
const deliverTimeout = 10 * time.Second

// Dispatcher fans events out to the configured sinks from a single
// background goroutine.
type Dispatcher struct {
	sinks   []Sink
	ch      chan Event
	dropped atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDispatcher creates a dispatcher with the given sinks and starts its
// delivery goroutine. bufferSize <= 0 uses DefaultBufferSize.
func NewDispatcher(bufferSize int, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	d := &Dispatcher{
		sinks:  sinks,
		ch:     make(chan Event, bufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues an event without blocking. If the buffer is full the
// event is dropped and counted.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		logger.Warn("event dropped, dispatcher buffer full",
			"type", string(ev.Type),
			logger.UploadID(ev.UploadID))
	}
}

// Dropped returns the number of events dropped so far.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops the dispatcher after draining buffered events.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case ev := <-d.ch:
			d.deliver(ev)
		case <-d.stopCh:
			// Drain what is already buffered, then stop.
			for {
				select {
				case ev := <-d.ch:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, ev); err != nil {
			logger.Warn("event delivery failed",
				"type", string(ev.Type),
				logger.UploadID(ev.UploadID),
				logger.Err(err))
		}
	}
}

// LogSink writes events to the structured log. It is the default sink when
// no external consumer is configured.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, ev Event) error {
	logger.Info("upload event",
		"type", string(ev.Type),
		logger.UploadID(ev.UploadID),
		logger.OwnerID(ev.OwnerID),
		"error_code", ev.ErrorCode)
	return nil
}

var _ Sink = LogSink{}
