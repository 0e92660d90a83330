package audit

import "sync"

// Config controls the dispatcher's queue.
type Config struct {
	Enabled    bool
	BufferSize int

	// DropIfFull sheds events when the queue is full instead of blocking
	// the emitting operation. Auth paths should never stall on a slow
	// sink, so this defaults on in the engine.
	DropIfFull bool
}

// Dispatcher decouples event emission from sink delivery: Emit enqueues,
// a single goroutine drains to the sink. A disabled dispatcher is a
// valid, do-nothing value.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	enabled bool
	block   bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher starts the delivery goroutine when cfg.Enabled and sink
// is non-nil.
func NewDispatcher(sink Sink, cfg Config) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		enabled: cfg.Enabled && sink != nil,
		block:   !cfg.DropIfFull,
		done:    make(chan struct{}),
	}
	if !d.enabled {
		close(d.done)
		return d
	}

	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}
	d.queue = make(chan Event, size)

	go func() {
		defer close(d.done)
		for ev := range d.queue {
			d.sink.Write(ev)
		}
	}()
	return d
}

// Emit enqueues ev for delivery. With DropIfFull set, a full queue loses
// the event silently.
func (d *Dispatcher) Emit(ev Event) {
	if !d.enabled {
		return
	}
	if d.block {
		d.queue <- ev
		return
	}
	select {
	case d.queue <- ev:
	default:
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		if d.enabled {
			close(d.queue)
		}
	})
	<-d.done
}
