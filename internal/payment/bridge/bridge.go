// Package bridge subscribes the payment domain to the order domain's events
// and turns them into saga executions. Delivery is at-least-once, so every
// handler is an idempotent pass: a message that was already acted on is
// acknowledged without doing anything again.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/spotlabs/spot-sagas/internal/events"
	paysaga "github.com/spotlabs/spot-sagas/internal/payment/workflow"
	"github.com/spotlabs/spot-sagas/internal/pkg/bus"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
)

const group = "payments"

type Bridge struct {
	engine *workflow.Engine
}

func New(engine *workflow.Engine) *Bridge {
	return &Bridge{engine: engine}
}

func (b *Bridge) Register(mb bus.Bus) {
	mb.Subscribe(events.TopicOrderCreated, group, b.onOrderCreated)
	mb.Subscribe(events.TopicOrderCancelled, group, b.onOrderCancelled)
}

// onOrderCreated starts the approval saga. The saga ID is derived from the
// order ID, so a redelivered event collides with the original execution and
// is acknowledged as already processed.
func (b *Bridge) onOrderCreated(ctx context.Context, msg bus.Message) error {
	var ev events.OrderCreated
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return saga.NonRetryablef("payment bridge: decode %s: %w", msg.Topic, err)
	}

	err := b.engine.Start(ctx, paysaga.ApproveHandlerName, paysaga.ApproveSagaID(ev.OrderID), ev)
	if errors.Is(err, workflow.ErrAlreadyRunning) {
		slog.DebugContext(ctx, "approval already started, acknowledging duplicate",
			"order_id", ev.OrderID, "message_id", msg.ID)
		return nil
	}
	return err
}

func (b *Bridge) onOrderCancelled(ctx context.Context, msg bus.Message) error {
	var ev events.OrderCancelled
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return saga.NonRetryablef("payment bridge: decode %s: %w", msg.Topic, err)
	}

	err := b.engine.Start(ctx, paysaga.CancelHandlerName, paysaga.CancelSagaID(ev.OrderID), ev)
	if errors.Is(err, workflow.ErrAlreadyRunning) {
		slog.DebugContext(ctx, "cancellation already started, acknowledging duplicate",
			"order_id", ev.OrderID, "message_id", msg.ID)
		return nil
	}
	return err
}
