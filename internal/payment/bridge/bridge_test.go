package bridge

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotlabs/spot-sagas/internal/events"
	paysaga "github.com/spotlabs/spot-sagas/internal/payment/workflow"
	"github.com/spotlabs/spot-sagas/internal/pkg/bus"
	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow"
	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

func newEngine() *workflow.Engine {
	return workflow.New(steplog.NewMemory(), workflow.WithRetryPolicy(saga.RetryPolicy{
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxInterval:        5 * time.Millisecond,
		MaxAttempts:        3,
	}))
}

func message(t *testing.T, topic string, payload any) bus.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return bus.Message{ID: "m-1", Topic: topic, Payload: body, Attempt: 1}
}

func TestRedeliveredOrderCreatedStartsOneApproval(t *testing.T) {
	e := newEngine()
	var starts atomic.Int32
	e.Register(paysaga.ApproveHandlerName, func(c *workflow.Context) error {
		starts.Add(1)
		return nil
	})

	b := New(e)
	ctx := context.Background()
	msg := message(t, events.TopicOrderCreated, events.OrderCreated{OrderID: "o-1", UserID: 7, Amount: 9000})

	require.NoError(t, b.onOrderCreated(ctx, msg))
	require.NoError(t, e.Await(ctx, paysaga.ApproveSagaID("o-1")))
	require.NoError(t, b.onOrderCreated(ctx, msg), "redelivery must be acknowledged")

	assert.Equal(t, int32(1), starts.Load())
}

func TestRedeliveredOrderCancelledStartsOneCancellation(t *testing.T) {
	e := newEngine()
	var starts atomic.Int32
	e.Register(paysaga.CancelHandlerName, func(c *workflow.Context) error {
		starts.Add(1)
		return nil
	})

	b := New(e)
	ctx := context.Background()
	msg := message(t, events.TopicOrderCancelled, events.OrderCancelled{OrderID: "o-1", Reason: "changed my mind"})

	require.NoError(t, b.onOrderCancelled(ctx, msg))
	require.NoError(t, e.Await(ctx, paysaga.CancelSagaID("o-1")))
	require.NoError(t, b.onOrderCancelled(ctx, msg))

	assert.Equal(t, int32(1), starts.Load())
}

func TestMalformedOrderCreatedIsNotRedelivered(t *testing.T) {
	b := New(newEngine())
	err := b.onOrderCreated(context.Background(), bus.Message{
		ID: "m-1", Topic: events.TopicOrderCreated, Payload: []byte("not json"),
	})
	require.Error(t, err)
	assert.True(t, saga.IsNonRetryable(err))
}
