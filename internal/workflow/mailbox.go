package workflow

import (
	"context"
	"sync"
)

// mailbox is the single-consumer, unbounded FIFO queue of events for one saga
// instance. Producers (Engine.Signal, the timer dispatcher) push; only the
// instance's own goroutine consumes, so the saga never observes two events
// concurrently.
type mailbox struct {
	mu    sync.Mutex
	queue []Event
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// next blocks until an event is available or ctx is done.
func (m *mailbox) next(ctx context.Context) (Event, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			ev := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return ev, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-m.ready:
		}
	}
}
