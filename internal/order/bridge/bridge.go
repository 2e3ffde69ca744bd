// Package bridge subscribes the order domain to the payment domain's events
// and turns them into signals for the fulfillment saga. Each message is an
// idempotent pass: processed markers in the cache absorb redeliveries, and a
// signal for a finished saga is acknowledged as stale.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/spotlabs/spot-sagas/internal/events"
	"github.com/spotlabs/spot-sagas/internal/order/domain"
	ordersaga "github.com/spotlabs/spot-sagas/internal/order/workflow"
	"github.com/spotlabs/spot-sagas/internal/pkg/bus"
	"github.com/spotlabs/spot-sagas/internal/pkg/cache"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
)

const (
	group = "orders"

	// processedTTL bounds how long a processed marker lives; well past any
	// realistic redelivery window.
	processedTTL = 24 * time.Hour
)

type Bridge struct {
	engine *workflow.Engine
	cache  cache.Cache
}

func New(engine *workflow.Engine, c cache.Cache) *Bridge {
	return &Bridge{engine: engine, cache: c}
}

func (b *Bridge) Register(mb bus.Bus) {
	mb.Subscribe(events.TopicPaymentSucceeded, group, b.onPaymentSucceeded)
	mb.Subscribe(events.TopicPaymentRefunded, group, b.onPaymentRefunded)
	mb.Subscribe(events.TopicPaymentAuthRequired, group, b.onPaymentAuthRequired)
}

func (b *Bridge) onPaymentSucceeded(ctx context.Context, msg bus.Message) error {
	var ev events.PaymentSucceeded
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return saga.NonRetryablef("order bridge: decode %s: %w", msg.Topic, err)
	}
	return b.signal(ctx, msg.Topic, ev.OrderID, ordersaga.StatusSignal{
		Status: domain.StatusPending,
	})
}

func (b *Bridge) onPaymentRefunded(ctx context.Context, msg bus.Message) error {
	var ev events.PaymentRefunded
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return saga.NonRetryablef("order bridge: decode %s: %w", msg.Topic, err)
	}
	return b.signal(ctx, msg.Topic, ev.OrderID, ordersaga.StatusSignal{
		RefundCompleted: true,
	})
}

func (b *Bridge) onPaymentAuthRequired(ctx context.Context, msg bus.Message) error {
	var ev events.PaymentAuthRequired
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return saga.NonRetryablef("order bridge: decode %s: %w", msg.Topic, err)
	}
	return b.signal(ctx, msg.Topic, ev.OrderID, ordersaga.StatusSignal{
		Status: domain.StatusPaymentFailed,
		Reason: ev.Message,
	})
}

// signal delivers sig to the order's fulfillment saga exactly once per
// (topic, order): redeliveries hit the processed marker, and sagas that have
// already finished absorb the signal as stale.
func (b *Bridge) signal(ctx context.Context, topic, orderID string, sig ordersaga.StatusSignal) error {
	key := b.cache.GenerateKey("processed:"+topic, orderID)
	claimed, err := b.cache.SetNX(ctx, key, "1", processedTTL)
	if err != nil {
		// The cache is advisory; losing it only costs a duplicate signal,
		// which the saga's transition rules absorb.
		slog.WarnContext(ctx, "processed-marker claim failed", "key", key, "error", err)
		claimed = true
	}
	if !claimed {
		slog.DebugContext(ctx, "acknowledging duplicate delivery", "topic", topic, "order_id", orderID)
		return nil
	}

	err = b.engine.Signal(ctx, orderID, sig)
	if errors.Is(err, workflow.ErrNotRunning) {
		slog.DebugContext(ctx, "signal for finished saga, acknowledging",
			"topic", topic, "order_id", orderID)
		return nil
	}
	if err != nil {
		// Release the marker so the redelivery is not mistaken for a
		// duplicate of a signal that never landed.
		if derr := b.cache.Delete(ctx, key); derr != nil {
			slog.WarnContext(ctx, "processed-marker release failed", "key", key, "error", derr)
		}
		return err
	}
	return nil
}
