package workflow

import (
	"context"

	"github.com/spotlabs/spot-sagas/internal/events"
	"github.com/spotlabs/spot-sagas/internal/payment/domain"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
)

const ApproveHandlerName = "payment-approve"

// ApproveSagaID namespaces the approval execution so it cannot collide with
// the fulfillment saga, which uses the bare order ID.
func ApproveSagaID(orderID string) string { return "approve:" + orderID }

// Approve is the payment approval saga. It captures the order's payment at
// the gateway; on any terminal failure it unwinds whatever committed and
// reports payment.auth_required so the customer can retry with another card.
type Approve struct {
	acts  *Activities
	retry saga.RetryPolicy
}

func NewApprove(acts *Activities, retry saga.RetryPolicy) *Approve {
	return &Approve{acts: acts, retry: retry}
}

func (a *Approve) Register(e *workflow.Engine) {
	e.Register(ApproveHandlerName, a.Handle)
}

func (a *Approve) Handle(c *workflow.Context) error {
	var in events.OrderCreated
	if err := c.Input(&in); err != nil {
		return err
	}

	comps := saga.NewCompensations(a.retry)

	paymentID, err := c.RunString("ensure-payment", func(ctx context.Context) (string, error) {
		return a.acts.EnsurePayment(ctx, in)
	})
	if err != nil {
		return a.fail(c, in, comps, err)
	}

	if err := c.Run("record-in-progress", func(ctx context.Context) error {
		return a.acts.SetStatus(ctx, paymentID, domain.StatusInProgress)
	}); err != nil {
		return a.fail(c, in, comps, err)
	}
	comps.Add("record-aborted", func(ctx context.Context) error {
		return a.acts.SetStatus(ctx, paymentID, domain.StatusAborted)
	})

	paymentKey, err := c.RunString("capture", func(ctx context.Context) (string, error) {
		return a.acts.Capture(ctx, in)
	})
	if err != nil {
		return a.fail(c, in, comps, err)
	}
	comps.Add("refund-capture", func(ctx context.Context) error {
		return a.acts.RefundByKey(ctx, paymentKey, in.OrderID, "payment approval unwound")
	})

	if err := c.Run("complete-capture", func(ctx context.Context) error {
		return a.acts.CompleteCapture(ctx, paymentID, in.OrderID, paymentKey)
	}); err != nil {
		return a.fail(c, in, comps, err)
	}

	return nil
}

// fail unwinds the compensation stack, reports the failure to the order
// domain and surfaces the original error as the execution result.
func (a *Approve) fail(c *workflow.Context, in events.OrderCreated, comps *saga.Compensations, cause error) error {
	if err := c.Run("compensate", func(ctx context.Context) error {
		comps.Compensate(ctx)
		return nil
	}); err != nil {
		return err
	}

	if err := c.Run("publish-auth-required", func(ctx context.Context) error {
		return a.acts.PublishAuthRequired(ctx, in, cause.Error())
	}); err != nil {
		return err
	}
	return cause
}
