package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

func testEngine(log steplog.Repository) *Engine {
	return New(log, WithRetryPolicy(saga.RetryPolicy{
		InitialInterval:    time.Millisecond,
		BackoffCoefficient: 2.0,
		MaxInterval:        5 * time.Millisecond,
		MaxAttempts:        3,
	}))
}

func TestStartRejectsDuplicateSagaID(t *testing.T) {
	log := steplog.NewMemory()
	e := testEngine(log)

	release := make(chan struct{})
	e.Register("wf", func(c *Context) error {
		<-release
		return nil
	})

	ctx := context.Background()
	require.NoError(t, e.Start(ctx, "wf", "saga-1", nil))
	assert.ErrorIs(t, e.Start(ctx, "wf", "saga-1", nil), ErrAlreadyRunning)

	close(release)
	require.NoError(t, e.Await(ctx, "saga-1"))

	// Still rejected after completion: the instance row persists.
	assert.ErrorIs(t, e.Start(ctx, "wf", "saga-1", nil), ErrAlreadyRunning)
}

func TestRunStepsExecuteOnceAndCheckpoint(t *testing.T) {
	log := steplog.NewMemory()
	e := testEngine(log)

	var calls atomic.Int32
	e.Register("wf", func(c *Context) error {
		return c.Run("do-work", func(context.Context) error {
			calls.Add(1)
			return nil
		})
	})

	ctx := context.Background()
	require.NoError(t, e.Start(ctx, "wf", "saga-1", nil))
	require.NoError(t, e.Await(ctx, "saga-1"))
	assert.Equal(t, int32(1), calls.Load())

	steps, err := log.Steps(ctx, "saga-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, steplog.KindRun, steps[0].Kind)
	assert.Equal(t, "do-work", steps[0].Name)
	assert.Equal(t, steplog.StepDone, steps[0].Status)
}

func TestRecoverReplaysCompletedStepsWithoutSideEffects(t *testing.T) {
	log := steplog.NewMemory()
	ctx := context.Background()

	// Simulate an instance that crashed after its first step committed.
	input, _ := json.Marshal(map[string]string{"id": "o-1"})
	require.NoError(t, log.CreateInstance(ctx, &steplog.Instance{
		ID: "saga-1", Handler: "wf", Input: input,
	}))
	require.NoError(t, log.AppendStep(ctx, &steplog.Step{
		SagaID: "saga-1", Seq: 1, Kind: steplog.KindRun, Name: "first",
		Status: steplog.StepDone, Output: "ref-123",
	}))

	var firstCalls, secondCalls atomic.Int32
	var replayedOutput atomic.Value
	e := testEngine(log)
	e.Register("wf", func(c *Context) error {
		out, err := c.RunString("first", func(context.Context) (string, error) {
			firstCalls.Add(1)
			return "ref-456", nil
		})
		if err != nil {
			return err
		}
		replayedOutput.Store(out)
		return c.Run("second", func(context.Context) error {
			secondCalls.Add(1)
			return nil
		})
	})

	require.NoError(t, e.Recover(ctx))
	require.NoError(t, e.Await(ctx, "saga-1"))

	assert.Equal(t, int32(0), firstCalls.Load(), "completed step must not re-execute")
	assert.Equal(t, int32(1), secondCalls.Load())
	assert.Equal(t, "ref-123", replayedOutput.Load(), "replay must return the recorded output")
}

func TestRecoverReplaysRecordedFailure(t *testing.T) {
	log := steplog.NewMemory()
	ctx := context.Background()

	require.NoError(t, log.CreateInstance(ctx, &steplog.Instance{ID: "saga-1", Handler: "wf", Input: []byte("null")}))
	require.NoError(t, log.AppendStep(ctx, &steplog.Step{
		SagaID: "saga-1", Seq: 1, Kind: steplog.KindRun, Name: "broken",
		Status: steplog.StepFailed, Error: "gateway exploded",
	}))

	var calls atomic.Int32
	e := testEngine(log)
	e.Register("wf", func(c *Context) error {
		return c.Run("broken", func(context.Context) error {
			calls.Add(1)
			return nil
		})
	})

	require.NoError(t, e.Recover(ctx))
	err := e.Await(ctx, "saga-1")
	require.Error(t, err)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "broken", stepErr.Step)
	assert.Equal(t, int32(0), calls.Load(), "recorded failure must not re-execute")
}

func TestSignalDelivery(t *testing.T) {
	log := steplog.NewMemory()
	e := testEngine(log)

	got := make(chan string, 1)
	e.Register("wf", func(c *Context) error {
		ev, err := c.Receive()
		if err != nil {
			return err
		}
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(ev.Signal, &payload); err != nil {
			return err
		}
		got <- payload.Status
		return nil
	})

	ctx := context.Background()
	require.NoError(t, e.Start(ctx, "wf", "saga-1", nil))

	// The instance may not have reached Receive yet; the mailbox buffers.
	require.NoError(t, e.Signal(ctx, "saga-1", map[string]string{"status": "ACCEPTED"}))
	require.NoError(t, e.Await(ctx, "saga-1"))
	assert.Equal(t, "ACCEPTED", <-got)
}

func TestSignalUnknownSaga(t *testing.T) {
	e := testEngine(steplog.NewMemory())
	err := e.Signal(context.Background(), "ghost", map[string]string{})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestTimerFiresThroughDispatcher(t *testing.T) {
	log := steplog.NewMemory()
	e := testEngine(log)

	fired := make(chan string, 1)
	e.Register("wf", func(c *Context) error {
		id, err := c.StartTimer(5 * time.Millisecond)
		if err != nil {
			return err
		}
		ev, err := c.Receive()
		if err != nil {
			return err
		}
		if ev.Timer == id {
			fired <- id
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(e, log, 2*time.Millisecond)
	go func() { _ = d.Run(ctx) }()

	require.NoError(t, e.Start(ctx, "wf", "saga-1", nil))
	require.NoError(t, e.Await(ctx, "saga-1"))

	select {
	case <-fired:
	default:
		t.Fatal("timer fire never reached the saga")
	}
}

func TestCancelledTimerDoesNotFire(t *testing.T) {
	log := steplog.NewMemory()
	e := testEngine(log)

	e.Register("wf", func(c *Context) error {
		id, err := c.StartTimer(time.Hour)
		if err != nil {
			return err
		}
		return c.CancelTimer(id)
	})

	ctx := context.Background()
	require.NoError(t, e.Start(ctx, "wf", "saga-1", nil))
	require.NoError(t, e.Await(ctx, "saga-1"))

	due, err := log.DueTimers(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due, "cancelled timer must never come due")
}

func TestFinishedInstancesAreReleased(t *testing.T) {
	log := steplog.NewMemory()
	e := testEngine(log)

	boom := errors.New("boom")
	e.Register("ok", func(c *Context) error { return nil })
	e.Register("bad", func(c *Context) error { return boom })

	ctx := context.Background()
	require.NoError(t, e.Start(ctx, "ok", "saga-ok", nil))
	require.NoError(t, e.Start(ctx, "bad", "saga-bad", nil))
	require.NoError(t, e.Await(ctx, "saga-ok"))
	require.Error(t, e.Await(ctx, "saga-bad"))

	// Completed instances must not stay resident; a long-lived process hosts
	// an unbounded stream of sagas.
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.running) == 0
	}, time.Second, time.Millisecond)

	// Await after release answers from the log, outcome intact.
	require.NoError(t, e.Await(ctx, "saga-ok"))
	err := e.Await(ctx, "saga-bad")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestAwaitReturnsHandlerError(t *testing.T) {
	log := steplog.NewMemory()
	e := testEngine(log)

	boom := errors.New("boom")
	e.Register("wf", func(c *Context) error { return boom })

	ctx := context.Background()
	require.NoError(t, e.Start(ctx, "wf", "saga-1", nil))
	assert.ErrorIs(t, e.Await(ctx, "saga-1"), boom)

	inst, err := log.GetInstance(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, steplog.InstanceFailed, inst.Status)
}
