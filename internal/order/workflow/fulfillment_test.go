package workflow

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotlabs/spot-sagas/internal/events"
	"github.com/spotlabs/spot-sagas/internal/order/domain"
	ordersqlite "github.com/spotlabs/spot-sagas/internal/order/store/sqlite"
	"github.com/spotlabs/spot-sagas/internal/outbox"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

type stubChecker struct {
	succeeded bool
}

func (s *stubChecker) Succeeded(context.Context, string) (bool, error) {
	return s.succeeded, nil
}

type fixture struct {
	t       *testing.T
	db      *sql.DB
	engine  *workflow.Engine
	acts    *Activities
	outbox  *outbox.Memory
	checker *stubChecker
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	orders, err := ordersqlite.New(db)
	require.NoError(t, err)

	ob := outbox.NewMemory()
	acts := NewActivities(db, orders, ob)
	checker := &stubChecker{}

	log := steplog.NewMemory()
	engine := workflow.New(log, workflow.WithRetryPolicy(saga.RetryPolicy{
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxInterval:        5 * time.Millisecond,
		MaxAttempts:        3,
	}))
	NewFulfillment(acts, checker, cfg).Register(engine)

	ctx, cancel := context.WithCancel(context.Background())
	d := workflow.NewDispatcher(engine, log, 2*time.Millisecond)
	go func() { _ = d.Run(ctx) }()
	t.Cleanup(cancel)

	return &fixture{t: t, db: db, engine: engine, acts: acts, outbox: ob, checker: checker, cancel: cancel}
}

func fastConfig() Config {
	return Config{
		PaymentWait: 50 * time.Millisecond,
		AcceptWait:  50 * time.Millisecond,
		RefundWait:  50 * time.Millisecond,
	}
}

func testInput(orderID string) StartInput {
	return StartInput{
		OrderID: orderID,
		StoreID: "store-1",
		UserID:  7,
		Items: []domain.OrderItem{
			{MenuID: "m-1", MenuName: "americano", Price: 4500, Quantity: 2},
		},
	}
}

func (f *fixture) start(orderID string) {
	f.t.Helper()
	require.NoError(f.t, f.engine.Start(context.Background(), HandlerName, orderID, testInput(orderID)))
}

func (f *fixture) signal(orderID string, sig StatusSignal) {
	f.t.Helper()
	require.NoError(f.t, f.engine.Signal(context.Background(), orderID, sig))
}

// waitForStatus polls until the persisted status reaches want; signals can
// only be acted on once the saga has caught up with the previous one.
func (f *fixture) waitForStatus(orderID string, want domain.Status) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		got, err := f.acts.Status(context.Background(), orderID)
		return err == nil && got == want
	}, 2*time.Second, 2*time.Millisecond, "order %s never reached %s", orderID, want)
}

func (f *fixture) topics() []string {
	var out []string
	for _, ev := range f.outbox.All() {
		out = append(out, ev.Topic)
	}
	return out
}

func TestFulfillmentHappyPath(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.start("o-1")

	f.signal("o-1", StatusSignal{Status: domain.StatusPending})
	f.waitForStatus("o-1", domain.StatusPending)

	est := 20
	f.signal("o-1", StatusSignal{Status: domain.StatusAccepted, EstimatedTime: &est})
	f.waitForStatus("o-1", domain.StatusAccepted)

	f.signal("o-1", StatusSignal{Status: domain.StatusCooking})
	f.waitForStatus("o-1", domain.StatusCooking)
	f.signal("o-1", StatusSignal{Status: domain.StatusReady})
	f.waitForStatus("o-1", domain.StatusReady)
	f.signal("o-1", StatusSignal{Status: domain.StatusCompleted})

	require.NoError(t, f.engine.Await(context.Background(), "o-1"))
	f.waitForStatus("o-1", domain.StatusCompleted)

	assert.Equal(t, []string{
		events.TopicOrderCreated,
		events.TopicOrderPending,
		events.TopicOrderAccepted,
	}, f.topics())
}

func TestFulfillmentPaymentFailureSignal(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.start("o-1")

	f.signal("o-1", StatusSignal{Status: domain.StatusPaymentFailed, Reason: "card declined"})
	require.NoError(t, f.engine.Await(context.Background(), "o-1"))
	f.waitForStatus("o-1", domain.StatusPaymentFailed)

	assert.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderCancelled}, f.topics(),
		"a failed payment must not announce the order to the store, but must hand it to the payment domain to unwind")
}

func TestFulfillmentPaymentTimeoutRecheckPaid(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: 30 * time.Millisecond, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.checker.succeeded = true
	f.start("o-1")

	// No payment event arrives; the timeout recheck finds the capture landed.
	f.waitForStatus("o-1", domain.StatusPending)
}

func TestFulfillmentPaymentTimeoutRecheckUnpaid(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: 30 * time.Millisecond, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.start("o-1")

	require.NoError(t, f.engine.Await(context.Background(), "o-1"))
	f.waitForStatus("o-1", domain.StatusPaymentFailed)

	// A capture could have landed after the recheck; the cancellation event
	// makes the payment domain refund it rather than strand the charge.
	assert.Contains(t, f.topics(), events.TopicOrderCancelled)
}

func TestFulfillmentCancelDuringPaymentWait(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.start("o-1")

	f.signal("o-1", StatusSignal{
		Status:      domain.StatusCancelPending,
		Reason:      "ordered by mistake",
		CancelledBy: domain.CancelledByCustomer,
	})
	require.NoError(t, f.engine.Await(context.Background(), "o-1"))
	f.waitForStatus("o-1", domain.StatusCancelled)

	o, err := f.acts.orders.Get(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CancelledByCustomer, o.CancelledBy)
	assert.Equal(t, []string{events.TopicOrderCreated, events.TopicOrderCancelled}, f.topics())
}

func TestFulfillmentAcceptTimeoutCancelsAsSystem(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: 30 * time.Millisecond, RefundWait: time.Hour})
	f.start("o-1")

	f.signal("o-1", StatusSignal{Status: domain.StatusPending})
	f.waitForStatus("o-1", domain.StatusCancelPending)

	f.signal("o-1", StatusSignal{RefundCompleted: true})
	require.NoError(t, f.engine.Await(context.Background(), "o-1"))
	f.waitForStatus("o-1", domain.StatusCancelled)

	o, err := f.acts.orders.Get(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CancelledBySystem, o.CancelledBy)
	assert.Contains(t, f.topics(), events.TopicOrderCancelled)
}

func TestFulfillmentStoreRejection(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.start("o-1")

	f.signal("o-1", StatusSignal{Status: domain.StatusPending})
	f.waitForStatus("o-1", domain.StatusPending)

	f.signal("o-1", StatusSignal{
		Status:      domain.StatusRejectPending,
		Reason:      "out of stock",
		CancelledBy: domain.CancelledByStore,
	})
	f.waitForStatus("o-1", domain.StatusRejectPending)

	f.signal("o-1", StatusSignal{RefundCompleted: true})
	require.NoError(t, f.engine.Await(context.Background(), "o-1"))
	f.waitForStatus("o-1", domain.StatusRejected)

	o, err := f.acts.orders.Get(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "out of stock", o.Reason)
}

func TestFulfillmentRefundTimeoutParksOrder(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: time.Hour, RefundWait: 30 * time.Millisecond})
	f.start("o-1")

	f.signal("o-1", StatusSignal{Status: domain.StatusPending})
	f.waitForStatus("o-1", domain.StatusPending)

	f.signal("o-1", StatusSignal{
		Status:      domain.StatusCancelPending,
		Reason:      "changed my mind",
		CancelledBy: domain.CancelledByCustomer,
	})

	err := f.engine.Await(context.Background(), "o-1")
	require.Error(t, err, "an unconfirmed refund must fail the execution")
	f.waitForStatus("o-1", domain.StatusRefundError)
}

func TestFulfillmentIgnoresOutOfOrderSignals(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.start("o-1")

	f.signal("o-1", StatusSignal{Status: domain.StatusPending})
	f.waitForStatus("o-1", domain.StatusPending)

	// READY is not reachable from PENDING; the saga must skip it and still
	// act on the acceptance that follows.
	f.signal("o-1", StatusSignal{Status: domain.StatusReady})
	f.signal("o-1", StatusSignal{Status: domain.StatusAccepted})
	f.waitForStatus("o-1", domain.StatusAccepted)
}

func TestFulfillmentCancelDuringCooking(t *testing.T) {
	f := newFixture(t, Config{PaymentWait: time.Hour, AcceptWait: time.Hour, RefundWait: time.Hour})
	f.start("o-1")

	f.signal("o-1", StatusSignal{Status: domain.StatusPending})
	f.waitForStatus("o-1", domain.StatusPending)
	f.signal("o-1", StatusSignal{Status: domain.StatusAccepted})
	f.waitForStatus("o-1", domain.StatusAccepted)
	f.signal("o-1", StatusSignal{Status: domain.StatusCooking})
	f.waitForStatus("o-1", domain.StatusCooking)

	f.signal("o-1", StatusSignal{
		Status:      domain.StatusCancelPending,
		CancelledBy: domain.CancelledByCustomer,
		Reason:      "running late",
	})
	f.waitForStatus("o-1", domain.StatusCancelPending)

	f.signal("o-1", StatusSignal{RefundCompleted: true})
	require.NoError(t, f.engine.Await(context.Background(), "o-1"))
	f.waitForStatus("o-1", domain.StatusCancelled)
}
