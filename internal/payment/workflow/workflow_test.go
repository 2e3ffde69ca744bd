package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotlabs/spot-sagas/internal/events"
	"github.com/spotlabs/spot-sagas/internal/outbox"
	"github.com/spotlabs/spot-sagas/internal/payment/domain"
	"github.com/spotlabs/spot-sagas/internal/payment/gateway"
	"github.com/spotlabs/spot-sagas/internal/payment/store"
	paysqlite "github.com/spotlabs/spot-sagas/internal/payment/store/sqlite"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

type fixture struct {
	t        *testing.T
	engine   *workflow.Engine
	payments store.Repository
	outbox   *outbox.Memory
	gw       *gateway.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "payments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	payments, err := paysqlite.New(db)
	require.NoError(t, err)

	ob := outbox.NewMemory()
	gw := gateway.NewFake()
	acts := NewActivities(db, payments, ob, gw)

	retry := saga.RetryPolicy{
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxInterval:        5 * time.Millisecond,
		MaxAttempts:        3,
	}
	engine := workflow.New(steplog.NewMemory(), workflow.WithRetryPolicy(retry))
	NewApprove(acts, retry).Register(engine)
	NewCancel(acts, retry).Register(engine)

	return &fixture{t: t, engine: engine, payments: payments, outbox: ob, gw: gw}
}

func (f *fixture) topics() []string {
	var out []string
	for _, ev := range f.outbox.All() {
		out = append(out, ev.Topic)
	}
	return out
}

func (f *fixture) approve(orderID string) error {
	f.t.Helper()
	in := events.OrderCreated{OrderID: orderID, UserID: 7, Amount: 9000}
	require.NoError(f.t, f.engine.Start(context.Background(), ApproveHandlerName, ApproveSagaID(orderID), in))
	return f.engine.Await(context.Background(), ApproveSagaID(orderID))
}

func (f *fixture) cancel(orderID, reason string) error {
	f.t.Helper()
	in := events.OrderCancelled{OrderID: orderID, Reason: reason}
	require.NoError(f.t, f.engine.Start(context.Background(), CancelHandlerName, CancelSagaID(orderID), in))
	return f.engine.Await(context.Background(), CancelSagaID(orderID))
}

func TestApproveCapturesPayment(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.approve("o-1"))

	p, err := f.payments.ActiveByOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, p.Status)
	assert.NotEmpty(t, p.PaymentKey)
	assert.Equal(t, 1, f.gw.CaptureCalls())
	assert.Equal(t, []string{events.TopicPaymentSucceeded}, f.topics())
}

func TestApproveDuplicateStartIsRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.approve("o-1"))

	in := events.OrderCreated{OrderID: "o-1", UserID: 7, Amount: 9000}
	err := f.engine.Start(context.Background(), ApproveHandlerName, ApproveSagaID("o-1"), in)
	assert.ErrorIs(t, err, workflow.ErrAlreadyRunning)
	assert.Equal(t, 1, f.gw.CaptureCalls(), "a redelivered order.created must not charge twice")
}

func TestApproveBillingKeyMissingAbortsWithoutRetry(t *testing.T) {
	f := newFixture(t)
	f.gw.CaptureErr = func(string) error { return saga.ErrBillingKeyNotFound }

	err := f.approve("o-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, saga.ErrBillingKeyNotFound)

	p, err := f.payments.Get(context.Background(), paymentID(t, f, "o-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAborted, p.Status)
	assert.Equal(t, 0, f.gw.RefundCalls(), "nothing was captured, nothing to refund")
	assert.Equal(t, []string{events.TopicPaymentAuthRequired}, f.topics())
}

func TestApproveTransientGatewayFailureRetries(t *testing.T) {
	f := newFixture(t)
	failures := 2
	f.gw.CaptureErr = func(string) error {
		if failures > 0 {
			failures--
			return errors.New("gateway timeout")
		}
		return nil
	}

	require.NoError(t, f.approve("o-1"))
	assert.Equal(t, 1, f.gw.CaptureCalls())
}

func TestCancelRefundsCapturedPayment(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.approve("o-1"))

	require.NoError(t, f.cancel("o-1", "changed my mind"))

	p, err := f.payments.Get(context.Background(), paymentID(t, f, "o-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, p.Status)
	assert.Equal(t, 1, f.gw.RefundCalls())
	assert.Contains(t, f.topics(), events.TopicPaymentRefunded)
}

func TestCancelWithoutActivePaymentStillReportsRefunded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cancel("o-1", "never paid"))

	assert.Equal(t, 0, f.gw.RefundCalls())
	assert.Equal(t, []string{events.TopicPaymentRefunded}, f.topics(),
		"the order saga is blocked until payment.refunded arrives")
}

func TestCancelRefundFailureRecordsCancelFailed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.approve("o-1"))
	f.gw.RefundErr = func(string) error { return errors.New("gateway down") }

	err := f.cancel("o-1", "changed my mind")
	require.Error(t, err)

	p, perr := f.payments.Get(context.Background(), paymentID(t, f, "o-1"))
	require.NoError(t, perr)
	assert.Equal(t, domain.StatusCancelFailed, p.Status)
	assert.NotContains(t, f.topics(), events.TopicPaymentRefunded)
}

// paymentID resolves the single payment row for the order regardless of its
// status.
func paymentID(t *testing.T, f *fixture, orderID string) string {
	t.Helper()
	p, err := f.payments.LatestByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return p.ID
}
