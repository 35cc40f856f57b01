package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering. Activity is a required side effect,
// so DropIfFull should stay false unless the sink is best effort.
type Config struct {
	BufferSize int
	DropIfFull bool
}

// Dispatcher moves activity records off the request path. A record is lost
// only when DropIfFull is set and the queue is full. A record that cannot be
// queued for any other reason (the caller's context ended, or the
// dispatcher is closed) is written to the sink on the caller's goroutine.
type Dispatcher struct {
	cfg  Config
	sink Sink

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	flushes chan chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	dropped atomic.Uint64
	inline  atomic.Uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan Event, cfg.BufferSize),
		flushes: make(chan chan struct{}),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case ack := <-d.flushes:
			d.drain()
			close(ack)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit queues event for the sink.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.writeInline(ctx, event)
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.writeInline(ctx, event)
	}
}

func (d *Dispatcher) writeInline(ctx context.Context, event Event) {
	d.inline.Add(1)
	d.sink.Emit(context.WithoutCancel(ctx), event)
}

// Flush waits until every record queued before the call reached the sink.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d == nil {
		return nil
	}
	ack := make(chan struct{})
	select {
	case d.flushes <- ack:
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight Emit calls, writes the queue out and stops the
// background goroutine. Later records are written inline.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.stopped
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)
	<-d.stopped
}

// Dropped counts records discarded under DropIfFull.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Inline counts records written on the caller's goroutine.
func (d *Dispatcher) Inline() uint64 {
	if d == nil {
		return 0
	}
	return d.inline.Load()
}
