// Package stream carries the progress events of one run to its subscriber.
package stream

import (
	"context"
	"sync"

	"github.com/yuhaibao324/dipagt/internal/domain"
)

// Emitter is the event queue of one run. Any number of goroutines may write
// and exactly one subscriber reads. Exactly one done event is queued, after
// which the channel is closed.
type Emitter struct {
	mu      sync.Mutex
	events  chan domain.StreamEvent
	done    bool
	writers sync.WaitGroup

	gone       chan struct{}
	detachOnce sync.Once
}

// NewEmitter creates an emitter whose queue holds buffer events.
func NewEmitter(buffer int) *Emitter {
	if buffer < 1 {
		buffer = 1
	}
	return &Emitter{
		events: make(chan domain.StreamEvent, buffer),
		gone:   make(chan struct{}),
	}
}

// Events is the subscriber side.
func (e *Emitter) Events() <-chan domain.StreamEvent { return e.events }

// Detach tells the emitter the subscriber stopped reading. Pending and
// future writes are dropped instead of blocking.
func (e *Emitter) Detach() {
	e.detachOnce.Do(func() { close(e.gone) })
}

// Detached reports whether the subscriber has gone away.
func (e *Emitter) Detached() bool {
	select {
	case <-e.gone:
		return true
	default:
		return false
	}
}

// Progress queues a progress event. It blocks while the queue is full and
// returns ctx.Err() if ctx ends first. Events sent after Done or after the
// subscriber detached are dropped.
func (e *Emitter) Progress(ctx context.Context, step domain.Step, payload interface{}) error {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return nil
	}
	e.writers.Add(1)
	e.mu.Unlock()
	defer e.writers.Done()

	select {
	case e.events <- domain.Progress(step, payload):
		return nil
	case <-e.gone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done waits for in-flight writes, queues the terminal event and closes the
// channel. It ignores run cancellation: the subscriber still gets its done
// event unless it detached. Only the first call has an effect; it reports
// whether the done event was queued.
func (e *Emitter) Done(payload domain.DonePayload) bool {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return false
	}
	e.done = true
	e.mu.Unlock()

	e.writers.Wait()
	defer close(e.events)

	select {
	case e.events <- domain.Done(payload):
		return true
	case <-e.gone:
		return false
	}
}

// Closed reports whether Done has been called.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
