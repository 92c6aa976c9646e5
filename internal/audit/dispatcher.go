package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls how the dispatcher buffers events between the
// matching path and the sink.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking a verify or login
	// while the sink is behind.
	DropIfFull bool
}

// Dispatcher decouples sinks from the request path: operations enqueue
// events and a single worker forwards them. A nil *Dispatcher is valid
// and discards everything, which is how disabled audit is represented.
type Dispatcher struct {
	sink     Sink
	shed     bool
	queue    chan Event
	stopping chan struct{}
	stopped  chan struct{}
	dropped  atomic.Uint64
	once     sync.Once
}

// NewDispatcher starts the forwarding worker. It returns nil when audit
// is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}

	d := &Dispatcher{
		sink:     sink,
		shed:     cfg.DropIfFull,
		queue:    make(chan Event, size),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go d.forward()
	return d
}

func (d *Dispatcher) forward() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(context.Background(), ev)
		case <-d.stopping:
			// Hand off whatever is already queued, then stop.
			for {
				select {
				case ev := <-d.queue:
					d.sink.Emit(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

// Emit enqueues one event. In shedding mode a full queue drops the
// event and counts it; otherwise Emit waits until the queue accepts it,
// the context ends, or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	select {
	case <-d.stopping:
		return
	default:
	}

	if d.shed {
		select {
		case d.queue <- ev:
		case <-d.stopping:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.stopping:
	}
}

// Close drains the queue and stops the worker. Safe on a nil receiver
// and when called repeatedly.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		close(d.stopping)
	})
	<-d.stopped
}

// Dropped reports how many events shedding discarded.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
