package workflow

import (
	"context"

	"github.com/spotlabs/spot-sagas/internal/events"
	"github.com/spotlabs/spot-sagas/internal/payment/domain"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
)

const CancelHandlerName = "payment-cancel"

func CancelSagaID(orderID string) string { return "cancel:" + orderID }

// Cancel is the payment cancellation saga. An order with no active payment is
// a successful no-op refund: the order domain still needs payment.refunded to
// finish its own unwinding.
type Cancel struct {
	acts  *Activities
	retry saga.RetryPolicy
}

func NewCancel(acts *Activities, retry saga.RetryPolicy) *Cancel {
	return &Cancel{acts: acts, retry: retry}
}

func (cn *Cancel) Register(e *workflow.Engine) {
	e.Register(CancelHandlerName, cn.Handle)
}

func (cn *Cancel) Handle(c *workflow.Context) error {
	var in events.OrderCancelled
	if err := c.Input(&in); err != nil {
		return err
	}

	paymentID, err := c.RunString("find-active-payment", func(ctx context.Context) (string, error) {
		return cn.acts.FindActivePayment(ctx, in.OrderID)
	})
	if err != nil {
		return err
	}
	if paymentID == "" {
		return c.Run("publish-refunded", func(ctx context.Context) error {
			return cn.acts.PublishRefunded(ctx, in.OrderID)
		})
	}

	comps := saga.NewCompensations(cn.retry)

	if err := c.Run("record-cancel-in-progress", func(ctx context.Context) error {
		return cn.acts.SetStatus(ctx, paymentID, domain.StatusCancelInProgress)
	}); err != nil {
		return cn.fail(c, comps, err)
	}
	// Once the payment reads CANCEL_IN_PROGRESS, any later failure must
	// surface it as CANCEL_FAILED rather than leave it stuck.
	comps.Add("record-cancel-failed", func(ctx context.Context) error {
		return cn.acts.SetStatus(ctx, paymentID, domain.StatusCancelFailed)
	})

	if err := c.Run("refund", func(ctx context.Context) error {
		return cn.acts.RefundPayment(ctx, paymentID, in.Reason)
	}); err != nil {
		return cn.fail(c, comps, err)
	}

	return c.Run("complete-cancel", func(ctx context.Context) error {
		return cn.acts.CompleteCancel(ctx, paymentID, in.OrderID)
	})
}

func (cn *Cancel) fail(c *workflow.Context, comps *saga.Compensations, cause error) error {
	if err := c.Run("compensate", func(ctx context.Context) error {
		comps.Compensate(ctx)
		return nil
	}); err != nil {
		return err
	}
	return cause
}
