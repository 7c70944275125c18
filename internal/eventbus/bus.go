// Package eventbus decouples best-effort notifications from the
// transactional path: a bounded queue fed from post-commit hooks, drained by
// one consumer goroutine.
package eventbus

import (
	"context"
	"log"

	"github.com/shoozy/fulfillment/internal/orders"
)

// Sink receives dispatched events. Delivery is fire-and-forget from the
// core's perspective.
type Sink interface {
	Publish(ctx context.Context, e orders.Event) error
}

type Bus struct {
	inbox   chan orders.Event
	closeCh chan struct{}
	sink    Sink
}

func New(capacity int, sink Sink) *Bus {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Bus{
		inbox:   make(chan orders.Event, capacity),
		closeCh: make(chan struct{}),
		sink:    sink,
	}
}

// Enqueue never blocks: when the queue is full the event is dropped and
// logged. Call only from post-commit hooks, never inside a unit of work.
func (b *Bus) Enqueue(e orders.Event) bool {
	select {
	case b.inbox <- e:
		return true
	default:
		log.Printf("eventbus: queue full, dropping %s/%s", e.Type, e.Action)
		return false
	}
}

// Start runs the single consumer loop. A sink failure for one event is
// logged and the loop moves on.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.closeCh)
		for {
			select {
			case <-ctx.Done():
				// drain whatever is already queued
				for {
					select {
					case e := <-b.inbox:
						b.dispatch(e)
					default:
						return
					}
				}
			case e, ok := <-b.inbox:
				if !ok {
					return
				}
				b.dispatch(e)
			}
		}
	}()
}

func (b *Bus) dispatch(e orders.Event) {
	if err := b.sink.Publish(context.Background(), e); err != nil {
		log.Printf("eventbus: dispatch %s/%s: %v", e.Type, e.Action, err)
	}
}

// Close stops accepting events; pair with WaitClosed to drain.
func (b *Bus) Close() { close(b.inbox) }

// WaitClosed blocks until the consumer loop has exited.
func (b *Bus) WaitClosed() { <-b.closeCh }
