// Package workflow holds the payment domain's two sagas: approval (capture
// the payment for a new order) and cancellation (refund whatever was
// captured). Both are started by the event bridge and publish their outcome
// back to the order domain through the outbox.
package workflow

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/spotlabs/spot-sagas/internal/events"
	"github.com/spotlabs/spot-sagas/internal/outbox"
	"github.com/spotlabs/spot-sagas/internal/payment/domain"
	"github.com/spotlabs/spot-sagas/internal/payment/gateway"
	"github.com/spotlabs/spot-sagas/internal/payment/store"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

type Activities struct {
	db       *sql.DB
	payments store.Repository
	outbox   outbox.Store
	gw       gateway.Gateway
}

func NewActivities(db *sql.DB, payments store.Repository, ob outbox.Store, gw gateway.Gateway) *Activities {
	return &Activities{db: db, payments: payments, outbox: ob, gw: gw}
}

// EnsurePayment resolves the order's active payment, creating a READY one
// when none exists yet, and returns its ID. Safe to retry.
func (a *Activities) EnsurePayment(ctx context.Context, in events.OrderCreated) (string, error) {
	p, err := a.payments.ActiveByOrder(ctx, in.OrderID)
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	np := &domain.Payment{
		ID:      uuid.NewString(),
		OrderID: in.OrderID,
		UserID:  in.UserID,
		Method:  domain.MethodCreditCard,
		Amount:  in.Amount,
	}
	if err := a.payments.Create(ctx, a.db, np); err != nil {
		return "", err
	}
	return np.ID, nil
}

// FindActivePayment resolves the order's active payment ID, or "" when the
// order has nothing to refund.
func (a *Activities) FindActivePayment(ctx context.Context, orderID string) (string, error) {
	p, err := a.payments.ActiveByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (a *Activities) SetStatus(ctx context.Context, paymentID string, status domain.Status) error {
	return a.payments.UpdateStatus(ctx, a.db, paymentID, status)
}

// Capture charges the gateway. The idempotency key is derived from the order,
// so a retried or replayed capture can never double-charge. Sentinel failures
// such as saga.ErrBillingKeyNotFound pass through and fail fast in the retry
// policy.
func (a *Activities) Capture(ctx context.Context, in events.OrderCreated) (string, error) {
	return a.gw.Capture(ctx, in.OrderID, in.Amount, "capture:"+in.OrderID)
}

// RefundByKey reverses a capture by its gateway key; the compensating path of
// the approval saga.
func (a *Activities) RefundByKey(ctx context.Context, paymentKey, orderID, reason string) error {
	return a.gw.Refund(ctx, paymentKey, reason, "refund:"+orderID)
}

// RefundPayment refunds whatever the payment captured. A payment without a
// gateway key was never charged, so there is nothing to reverse.
func (a *Activities) RefundPayment(ctx context.Context, paymentID, reason string) error {
	p, err := a.payments.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.PaymentKey == "" {
		return nil
	}
	return a.gw.Refund(ctx, p.PaymentKey, reason, "refund:"+p.OrderID)
}

// CompleteCapture stores the gateway key, moves the payment to SUCCEEDED and
// emits payment.succeeded, all in one transaction.
func (a *Activities) CompleteCapture(ctx context.Context, paymentID, orderID, paymentKey string) error {
	return storage.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		if err := a.payments.RecordCapture(ctx, tx, paymentID, paymentKey); err != nil {
			return err
		}
		return a.outbox.Append(ctx, tx, events.TopicPaymentSucceeded,
			events.PaymentSucceeded{OrderID: orderID})
	})
}

// CompleteCancel moves the payment to CANCELLED and emits payment.refunded in
// one transaction.
func (a *Activities) CompleteCancel(ctx context.Context, paymentID, orderID string) error {
	return storage.WithTx(ctx, a.db, func(tx *sql.Tx) error {
		if err := a.payments.UpdateStatus(ctx, tx, paymentID, domain.StatusCancelled); err != nil {
			return err
		}
		return a.outbox.Append(ctx, tx, events.TopicPaymentRefunded,
			events.PaymentRefunded{OrderID: orderID})
	})
}

// PublishRefunded emits payment.refunded without touching any payment row;
// the no-op refund path.
func (a *Activities) PublishRefunded(ctx context.Context, orderID string) error {
	return a.outbox.Append(ctx, a.db, events.TopicPaymentRefunded,
		events.PaymentRefunded{OrderID: orderID})
}

// PublishAuthRequired emits payment.auth_required after a failed approval.
func (a *Activities) PublishAuthRequired(ctx context.Context, in events.OrderCreated, message string) error {
	return a.outbox.Append(ctx, a.db, events.TopicPaymentAuthRequired, events.PaymentAuthRequired{
		OrderID: in.OrderID,
		UserID:  in.UserID,
		Message: message,
	})
}
