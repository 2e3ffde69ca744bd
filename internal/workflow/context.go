package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

// Event is what a saga receives from its mailbox: either a timer fire
// (Timer holds the timer ID) or a signal (Signal holds the JSON payload).
type Event struct {
	Timer  string          `json:"timer,omitempty"`
	Signal json.RawMessage `json:"signal,omitempty"`
}

// StepError is the replayed form of a step failure. The original error value
// does not survive a restart; its message does.
type StepError struct {
	Step    string
	Message string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %s", e.Step, e.Message)
}

// Context is the handle a saga handler executes against. Every operation is
// checkpointed to the step log under an increasing sequence number; on replay
// after a restart, operations whose outcome is already recorded return that
// outcome without side effects.
//
// Handlers must be deterministic between runs: same input, same sequence of
// operations. All real work belongs inside Run/RunString closures.
type Context struct {
	ctx      context.Context
	engine   *Engine
	sagaID   string
	input    []byte
	mbox     *mailbox
	seq      int
	recorded []steplog.Step
}

// Context returns the underlying context for the execution.
func (c *Context) Context() context.Context { return c.ctx }

// SagaID returns the instance's saga ID.
func (c *Context) SagaID() string { return c.sagaID }

// Input unmarshals the start input into v.
func (c *Context) Input(v any) error {
	if err := json.Unmarshal(c.input, v); err != nil {
		return fmt.Errorf("workflow: decode input for %s: %w", c.sagaID, err)
	}
	return nil
}

// Run executes fn as a durable step: retried with backoff on transient
// failure, checkpointed on completion, skipped on replay. fn must be
// idempotent — a crash between the side effect and the checkpoint means it
// runs again.
func (c *Context) Run(name string, fn func(context.Context) error) error {
	_, err := c.step(name, func(ctx context.Context) (string, error) {
		return "", fn(ctx)
	})
	return err
}

// RunString is Run for steps whose result the saga needs later (for example
// a gateway reference). The result is recorded and survives replay; any step
// whose output influences control flow must use this form.
func (c *Context) RunString(name string, fn func(context.Context) (string, error)) (string, error) {
	return c.step(name, fn)
}

func (c *Context) step(name string, fn func(context.Context) (string, error)) (string, error) {
	c.seq++
	if rec := c.replayed(); rec != nil {
		if rec.Status == steplog.StepDone {
			return rec.Output, nil
		}
		return "", &StepError{Step: rec.Name, Message: rec.Error}
	}

	var out string
	err := c.engine.retry.Do(c.ctx, name, func(ctx context.Context) error {
		s, ferr := fn(ctx)
		if ferr == nil {
			out = s
		}
		return ferr
	})

	step := &steplog.Step{
		SagaID: c.sagaID,
		Seq:    c.seq,
		Kind:   steplog.KindRun,
		Name:   name,
		Status: steplog.StepDone,
		Output: out,
	}
	if err != nil {
		step.Status = steplog.StepFailed
		step.Error = err.Error()
	}
	if rerr := c.record(step); rerr != nil {
		return "", rerr
	}
	return out, err
}

// StartTimer schedules a durable timer and returns its ID. The fire arrives
// as an Event with Timer set; it is delivered by the dispatcher, so the timer
// survives a process restart.
func (c *Context) StartTimer(d time.Duration) (string, error) {
	c.seq++
	if rec := c.replayed(); rec != nil {
		return rec.Output, nil
	}

	id := uuid.NewString()
	timer := &steplog.Timer{ID: id, SagaID: c.sagaID, FireAt: time.Now().Add(d)}
	if err := c.engine.log.CreateTimer(c.ctx, timer); err != nil {
		return "", err
	}
	if err := c.record(&steplog.Step{
		SagaID: c.sagaID,
		Seq:    c.seq,
		Kind:   steplog.KindTimerStart,
		Status: steplog.StepDone,
		Output: id,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// CancelTimer cancels a pending timer once its wait condition has resolved,
// so a stale fire cannot reach the mailbox later. A fire already in flight is
// harmless: receivers ignore fires for timer IDs they no longer wait on.
func (c *Context) CancelTimer(timerID string) error {
	c.seq++
	if c.replayed() != nil {
		return nil
	}

	if err := c.engine.log.CancelTimer(c.ctx, timerID); err != nil {
		return err
	}
	return c.record(&steplog.Step{
		SagaID: c.sagaID,
		Seq:    c.seq,
		Kind:   steplog.KindTimerCancel,
		Status: steplog.StepDone,
		Output: timerID,
	})
}

// Receive blocks for the next event and records it, so replay re-delivers
// the exact event sequence the saga consumed before the restart.
func (c *Context) Receive() (Event, error) {
	c.seq++
	if rec := c.replayed(); rec != nil {
		var ev Event
		if err := json.Unmarshal([]byte(rec.Output), &ev); err != nil {
			return Event{}, fmt.Errorf("workflow: decode recorded event for %s: %w", c.sagaID, err)
		}
		return ev, nil
	}

	ev, err := c.mbox.next(c.ctx)
	if err != nil {
		return Event{}, err
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("workflow: encode event for %s: %w", c.sagaID, err)
	}
	if err := c.record(&steplog.Step{
		SagaID: c.sagaID,
		Seq:    c.seq,
		Kind:   steplog.KindEvent,
		Status: steplog.StepDone,
		Output: string(raw),
	}); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// replayed returns the checkpoint for the current seq, or nil once the saga
// has caught up with its log.
func (c *Context) replayed() *steplog.Step {
	if c.seq <= len(c.recorded) {
		return &c.recorded[c.seq-1]
	}
	return nil
}

func (c *Context) record(step *steplog.Step) error {
	if sc := trace.SpanContextFromContext(c.ctx); sc.IsValid() {
		step.TraceID = sc.TraceID().String()
		step.SpanID = sc.SpanID().String()
	}
	if err := c.engine.log.AppendStep(c.ctx, step); err != nil {
		return fmt.Errorf("workflow: checkpoint %s seq %d: %w", c.sagaID, step.Seq, err)
	}
	return nil
}
