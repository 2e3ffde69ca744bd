// Package bus is the async event channel between the order and payment
// domains. Delivery is at-least-once: a message is acknowledged only when the
// handler returns nil, and a failing handler sees the same message again.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/spotlabs/spot-sagas/internal/saga"
)

// Message is a single delivery. Attempt starts at 1 and increments on each
// redelivery to the same handler.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
	Attempt int
}

// Handler consumes one message. Returning nil acknowledges it; returning an
// error schedules a redelivery.
type Handler func(ctx context.Context, msg Message) error

type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic, group string, h Handler)
}

// InProc fans messages out to per-subscriber goroutines over buffered
// channels. Each (topic, group) subscription gets its own copy of every
// message on the topic, mirroring consumer groups on a real broker.
type InProc struct {
	mu      sync.Mutex
	subs    map[string][]*subscriber
	retry   saga.RetryPolicy
	started bool
}

type subscriber struct {
	topic   string
	group   string
	handler Handler
	ch      chan Message
}

type Option func(*InProc)

func WithRetryPolicy(p saga.RetryPolicy) Option {
	return func(b *InProc) { b.retry = p }
}

func NewInProc(opts ...Option) *InProc {
	b := &InProc{
		subs:  make(map[string][]*subscriber),
		retry: saga.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a consumer. Must be called before Run.
func (b *InProc) Subscribe(topic, group string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("bus: Subscribe after Run")
	}
	b.subs[topic] = append(b.subs[topic], &subscriber{
		topic:   topic,
		group:   group,
		handler: h,
		ch:      make(chan Message, 256),
	})
}

func (b *InProc) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := Message{ID: uuid.NewString(), Topic: topic, Payload: payload}

	b.mu.Lock()
	subs := b.subs[topic]
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-ctx.Done():
			return fmt.Errorf("bus: publish %s: %w", topic, ctx.Err())
		}
	}
	return nil
}

// Run starts one worker per subscription and blocks until ctx is cancelled
// and all in-flight handlers have returned.
func (b *InProc) Run(ctx context.Context) error {
	b.mu.Lock()
	b.started = true
	var workers []*subscriber
	for _, subs := range b.subs {
		workers = append(workers, subs...)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range workers {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			b.consume(ctx, s)
		}(s)
	}
	wg.Wait()
	return nil
}

func (b *InProc) consume(ctx context.Context, s *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.ch:
			msg.Attempt = 1
			err := b.retry.Do(ctx, fmt.Sprintf("consume %s/%s", s.topic, s.group), func(ctx context.Context) error {
				err := s.handler(ctx, msg)
				if err != nil {
					msg.Attempt++
				}
				return err
			})
			if err != nil {
				// At-least-once has a limit; park the message in the log.
				slog.ErrorContext(ctx, "dropping message after exhausted redeliveries",
					"topic", s.topic, "group", s.group, "message_id", msg.ID, "error", err)
			}
		}
	}
}
