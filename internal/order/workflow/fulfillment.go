// Package workflow holds the order fulfillment saga: the long-lived execution
// that walks an order from creation through payment, merchant acceptance and
// preparation to pickup, and unwinds it through refund on cancellation.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spotlabs/spot-sagas/internal/order/domain"
	"github.com/spotlabs/spot-sagas/internal/order/store"
	"github.com/spotlabs/spot-sagas/internal/workflow"
)

// HandlerName is the engine registration key; the saga ID for an order's
// fulfillment execution is the order ID itself.
const HandlerName = "order-fulfillment"

// StartInput is the fulfillment saga's start payload.
type StartInput struct {
	OrderID    string             `json:"order_id"`
	StoreID    string             `json:"store_id"`
	UserID     int                `json:"user_id"`
	PickupTime string             `json:"pickup_time,omitempty"`
	Items      []domain.OrderItem `json:"items"`
}

// StatusSignal is what the HTTP surface and the event bridges send to a
// running fulfillment saga. Either Status proposes a transition, or
// RefundCompleted reports the payment domain finished a refund.
type StatusSignal struct {
	Status          domain.Status      `json:"status,omitempty"`
	EstimatedTime   *int               `json:"estimated_time,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	CancelledBy     domain.CancelledBy `json:"cancelled_by,omitempty"`
	RefundCompleted bool               `json:"refund_completed,omitempty"`
}

// PaymentChecker reports whether a capture landed for the order. Used once,
// when the payment wait times out, to distinguish "slow event" from "never
// paid".
type PaymentChecker interface {
	Succeeded(ctx context.Context, orderID string) (bool, error)
}

// Config holds the saga's wait windows.
type Config struct {
	PaymentWait time.Duration // capture confirmation
	AcceptWait  time.Duration // merchant decision
	RefundWait  time.Duration // refund confirmation after cancel/reject
}

func DefaultConfig() Config {
	return Config{
		PaymentWait: 15 * time.Minute,
		AcceptWait:  30 * time.Minute,
		RefundWait:  30 * time.Minute,
	}
}

type Fulfillment struct {
	acts     *Activities
	payments PaymentChecker
	cfg      Config
}

func NewFulfillment(acts *Activities, payments PaymentChecker, cfg Config) *Fulfillment {
	return &Fulfillment{acts: acts, payments: payments, cfg: cfg}
}

func (f *Fulfillment) Register(e *workflow.Engine) {
	e.Register(HandlerName, f.Handle)
}

func (f *Fulfillment) Handle(c *workflow.Context) error {
	var in StartInput
	if err := c.Input(&in); err != nil {
		return err
	}

	if err := c.Run("persist-order", func(ctx context.Context) error {
		return f.acts.PersistOrder(ctx, in)
	}); err != nil {
		return err
	}

	verdict, err := f.awaitPayment(c, in)
	if err != nil {
		return err
	}
	switch verdict.Status {
	case domain.StatusCancelPending:
		// Cancelled before the capture confirmed. There is no CANCEL_PENDING
		// stage this early: the order goes straight to CANCELLED, and the
		// cancellation event lets the payment domain unwind whatever the
		// gateway managed to do.
		return f.mark(c, "mark-cancelled", in, store.StatusUpdate{
			Next:   domain.StatusCancelled,
			Reason: verdict.Reason,
			Actor:  verdict.CancelledBy,
		})
	case domain.StatusPaymentFailed:
		// Marking PAYMENT_FAILED emits the cancellation event; a capture that
		// raced past the recheck gets refunded instead of stranded.
		return f.mark(c, "mark-payment-failed", in, store.StatusUpdate{
			Next:   domain.StatusPaymentFailed,
			Reason: verdict.Reason,
		})
	}

	if err := f.mark(c, "mark-pending", in, store.StatusUpdate{Next: domain.StatusPending}); err != nil {
		return err
	}

	// Merchant decision window. No answer means the system cancels on the
	// customer's behalf.
	cur := domain.StatusPending
	sig, timedOut, err := f.await(c, f.cfg.AcceptWait, func(s StatusSignal) bool {
		return cur.CanTransitionTo(s.Status)
	})
	if err != nil {
		return err
	}
	if timedOut {
		return f.cancelOrReject(c, in, StatusSignal{
			Status:      domain.StatusCancelPending,
			Reason:      "store did not accept the order in time",
			CancelledBy: domain.CancelledBySystem,
		})
	}
	if sig.Status != domain.StatusAccepted {
		return f.cancelOrReject(c, in, sig)
	}

	if err := f.mark(c, "mark-accepted", in, store.StatusUpdate{
		Next:          domain.StatusAccepted,
		EstimatedTime: sig.EstimatedTime,
	}); err != nil {
		return err
	}
	cur = domain.StatusAccepted

	// Preparation loop: the merchant drives COOKING -> READY -> COMPLETED;
	// the customer can still cancel until cooking finishes. These waits are
	// unbounded — an accepted order sits until someone moves it.
	for {
		sig, _, err := f.await(c, 0, func(s StatusSignal) bool {
			return cur.CanTransitionTo(s.Status)
		})
		if err != nil {
			return err
		}
		if sig.Status == domain.StatusCancelPending {
			return f.cancelOrReject(c, in, sig)
		}

		if err := f.mark(c, "mark-"+stepName(sig.Status), in, store.StatusUpdate{Next: sig.Status}); err != nil {
			return err
		}
		cur = sig.Status
		if cur == domain.StatusCompleted {
			return nil
		}
	}
}

// awaitPayment waits for the payment domain's verdict, or a cancel from the
// customer. On timeout the saga asks the payment store directly once: the
// capture may have landed while its event was still in flight. The returned
// signal's Status is PENDING (paid), PAYMENT_FAILED or CANCEL_PENDING.
func (f *Fulfillment) awaitPayment(c *workflow.Context, in StartInput) (StatusSignal, error) {
	sig, timedOut, err := f.await(c, f.cfg.PaymentWait, func(s StatusSignal) bool {
		return s.Status == domain.StatusPending ||
			s.Status == domain.StatusPaymentFailed ||
			s.Status == domain.StatusCancelPending
	})
	if err != nil {
		return StatusSignal{}, err
	}

	if timedOut {
		out, rerr := c.RunString("recheck-payment", func(ctx context.Context) (string, error) {
			ok, cerr := f.payments.Succeeded(ctx, in.OrderID)
			if cerr != nil {
				return "", cerr
			}
			return strconv.FormatBool(ok), nil
		})
		if rerr != nil {
			return StatusSignal{}, rerr
		}
		if out == "true" {
			return StatusSignal{Status: domain.StatusPending}, nil
		}
		return StatusSignal{
			Status: domain.StatusPaymentFailed,
			Reason: "payment was not completed in time",
		}, nil
	}

	if sig.Status == domain.StatusPaymentFailed && sig.Reason == "" {
		sig.Reason = "payment failed"
	}
	return sig, nil
}

// cancelOrReject runs the unwinding tail shared by customer cancellations,
// store rejections and acceptance timeouts: mark the *_PENDING status (which
// emits order.cancelled and triggers the refund), wait for the refund
// confirmation, then settle on the final status. A refund that never confirms
// parks the order in REFUND_ERROR for an operator.
func (f *Fulfillment) cancelOrReject(c *workflow.Context, in StartInput, sig StatusSignal) error {
	final := domain.StatusCancelled
	if sig.Status == domain.StatusRejectPending {
		final = domain.StatusRejected
	}

	if err := f.mark(c, "mark-"+stepName(sig.Status), in, store.StatusUpdate{
		Next:   sig.Status,
		Reason: sig.Reason,
		Actor:  sig.CancelledBy,
	}); err != nil {
		return err
	}

	_, timedOut, err := f.await(c, f.cfg.RefundWait, func(s StatusSignal) bool {
		return s.RefundCompleted
	})
	if err != nil {
		return err
	}
	if timedOut {
		if err := f.mark(c, "mark-refund-error", in, store.StatusUpdate{
			Next:   domain.StatusRefundError,
			Reason: "refund was not confirmed in time",
		}); err != nil {
			return err
		}
		return fmt.Errorf("order %s: refund confirmation timed out", in.OrderID)
	}

	return f.mark(c, "mark-"+stepName(final), in, store.StatusUpdate{
		Next:   final,
		Reason: sig.Reason,
		Actor:  sig.CancelledBy,
	})
}

// await blocks for the next signal matching relevant, bounded by timeout when
// timeout > 0. Fires from timers of waits that already resolved are skipped;
// the live timer is cancelled as soon as a signal resolves the wait.
func (f *Fulfillment) await(c *workflow.Context, timeout time.Duration, relevant func(StatusSignal) bool) (sig StatusSignal, timedOut bool, err error) {
	timerID := ""
	if timeout > 0 {
		if timerID, err = c.StartTimer(timeout); err != nil {
			return
		}
	}

	for {
		ev, rerr := c.Receive()
		if rerr != nil {
			err = rerr
			return
		}
		if ev.Timer != "" {
			if ev.Timer == timerID {
				timedOut = true
				return
			}
			continue // stale fire from an already-resolved wait
		}

		var s StatusSignal
		if uerr := json.Unmarshal(ev.Signal, &s); uerr != nil {
			continue
		}
		if !relevant(s) {
			continue
		}

		if timerID != "" {
			if cerr := c.CancelTimer(timerID); cerr != nil {
				err = cerr
				return
			}
		}
		sig = s
		return
	}
}

func (f *Fulfillment) mark(c *workflow.Context, step string, in StartInput, upd store.StatusUpdate) error {
	return c.Run(step, func(ctx context.Context) error {
		return f.acts.MutateStatus(ctx, StatusChange{
			OrderID: in.OrderID,
			Update:  upd,
			StoreID: in.StoreID,
			UserID:  in.UserID,
		})
	})
}

func stepName(s domain.Status) string {
	switch s {
	case domain.StatusCancelPending:
		return "cancel-pending"
	case domain.StatusRejectPending:
		return "reject-pending"
	case domain.StatusCancelled:
		return "cancelled"
	case domain.StatusRejected:
		return "rejected"
	case domain.StatusCooking:
		return "cooking"
	case domain.StatusReady:
		return "ready"
	case domain.StatusCompleted:
		return "completed"
	default:
		return string(s)
	}
}
