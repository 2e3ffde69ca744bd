package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/spotlabs/spot-sagas/internal/pkg/bus"
)

// Relay polls the outbox and publishes pending events onto the bus in order.
// A publish failure stops the batch so ordering is preserved; the next tick
// retries from the same event.
type Relay struct {
	store     Store
	bus       bus.Bus
	interval  time.Duration
	batch     int
	retention time.Duration

	lastPrune time.Time
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batch = n }
}

func WithRetention(d time.Duration) RelayOption {
	return func(r *Relay) { r.retention = d }
}

func NewRelay(store Store, b bus.Bus, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		bus:       b,
		interval:  200 * time.Millisecond,
		batch:     100,
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Relay) tick(ctx context.Context) {
	events, err := r.store.Pending(ctx, r.batch)
	if err != nil {
		slog.ErrorContext(ctx, "outbox poll failed", "error", err)
		return
	}

	for _, ev := range events {
		if err := r.bus.Publish(ctx, ev.Topic, ev.Payload); err != nil {
			slog.ErrorContext(ctx, "outbox publish failed",
				"event_id", ev.ID, "topic", ev.Topic, "error", err)
			return
		}
		if err := r.store.MarkPublished(ctx, ev.ID); err != nil {
			// The event will be published again next tick; consumers
			// are idempotent, so a duplicate is acceptable.
			slog.ErrorContext(ctx, "outbox mark-published failed",
				"event_id", ev.ID, "topic", ev.Topic, "error", err)
			return
		}
	}

	if r.retention > 0 && time.Since(r.lastPrune) > r.retention/2 {
		r.lastPrune = time.Now()
		if n, err := r.store.DeletePublishedBefore(ctx, time.Now().Add(-r.retention)); err != nil {
			slog.WarnContext(ctx, "outbox prune failed", "error", err)
		} else if n > 0 {
			slog.DebugContext(ctx, "outbox pruned", "events", n)
		}
	}
}
