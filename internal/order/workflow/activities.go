package workflow

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/spotlabs/spot-sagas/internal/events"
	"github.com/spotlabs/spot-sagas/internal/order/domain"
	"github.com/spotlabs/spot-sagas/internal/order/store"
	"github.com/spotlabs/spot-sagas/internal/outbox"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

// StatusChange is the input to MutateStatus. StoreID and UserID travel along
// because the event payloads need them and reading the order row back inside
// the write transaction would contend with the single connection.
type StatusChange struct {
	OrderID string
	Update  store.StatusUpdate
	StoreID string
	UserID  int
}

// Activities are the fulfillment saga's side effects. Every mutation couples
// the status write with its outbox event in one transaction, so an event is
// published iff the status it announces was committed.
type Activities struct {
	db     *sql.DB
	orders store.Repository
	outbox outbox.Store
}

func NewActivities(db *sql.DB, orders store.Repository, ob outbox.Store) *Activities {
	return &Activities{db: db, orders: orders, outbox: ob}
}

// PersistOrder inserts the order in PAYMENT_PENDING and emits order.created.
// A retried step finds the order already there and does nothing.
func (a *Activities) PersistOrder(ctx context.Context, in StartInput) error {
	exists, err := a.orders.Exists(ctx, in.OrderID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	o := &domain.Order{
		ID:         in.OrderID,
		StoreID:    in.StoreID,
		UserID:     in.UserID,
		Status:     domain.StatusPaymentPending,
		PickupTime: in.PickupTime,
		Items:      in.Items,
	}
	return storage.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		if err := a.orders.Create(ctx, tx, o); err != nil {
			return err
		}
		return a.outbox.Append(ctx, tx, events.TopicOrderCreated, events.OrderCreated{
			OrderID: o.ID,
			UserID:  o.UserID,
			Amount:  o.TotalAmount(),
		})
	})
}

// MutateStatus applies the transition if the rule table allows it from the
// current persisted status; a denied transition is logged and dropped. The
// check and the write share one immediate transaction, so racing mutations
// serialise on the write lock.
func (a *Activities) MutateStatus(ctx context.Context, ch StatusChange) error {
	return storage.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		cur, err := a.orders.Status(ctx, tx, ch.OrderID)
		if err != nil {
			return err
		}
		if cur == ch.Update.Next {
			// A retried step already applied this transition.
			return nil
		}
		if !cur.CanTransitionTo(ch.Update.Next) {
			slog.WarnContext(ctx, "status transition denied",
				"order_id", ch.OrderID, "from", cur, "to", ch.Update.Next)
			return nil
		}
		if err := a.orders.UpdateStatus(ctx, tx, ch.OrderID, ch.Update); err != nil {
			return err
		}
		return a.appendEvent(ctx, tx, cur, ch)
	})
}

// Status reads the current persisted status.
func (a *Activities) Status(ctx context.Context, orderID string) (domain.Status, error) {
	return a.orders.Status(ctx, a.db, orderID)
}

func (a *Activities) appendEvent(ctx context.Context, tx *sql.Tx, cur domain.Status, ch StatusChange) error {
	switch ch.Update.Next {
	case domain.StatusPending:
		return a.outbox.Append(ctx, tx, events.TopicOrderPending, events.OrderPending{
			OrderID: ch.OrderID,
			StoreID: ch.StoreID,
		})
	case domain.StatusAccepted:
		est := 0
		if ch.Update.EstimatedTime != nil {
			est = *ch.Update.EstimatedTime
		}
		return a.outbox.Append(ctx, tx, events.TopicOrderAccepted, events.OrderAccepted{
			OrderID:       ch.OrderID,
			UserID:        ch.UserID,
			EstimatedTime: est,
		})
	case domain.StatusCancelPending, domain.StatusRejectPending, domain.StatusPaymentFailed:
		// PAYMENT_FAILED cancels too: a capture may have landed after the
		// recheck, and the payment domain must unwind it (or no-op).
		return a.outbox.Append(ctx, tx, events.TopicOrderCancelled, events.OrderCancelled{
			OrderID: ch.OrderID,
			Reason:  ch.Update.Reason,
		})
	case domain.StatusCancelled:
		if cur == domain.StatusPaymentPending || cur == domain.StatusPaymentFailed {
			// Direct cancellation with no *_PENDING stage, so no cancellation
			// event has been emitted for this order yet.
			return a.outbox.Append(ctx, tx, events.TopicOrderCancelled, events.OrderCancelled{
				OrderID: ch.OrderID,
				Reason:  ch.Update.Reason,
			})
		}
		return nil
	}
	return nil
}
