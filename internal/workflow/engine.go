// Package workflow is the durable execution substrate the sagas run on.
//
// Instead of a workflow-engine product, sagas are explicit persisted state
// machines: every step, consumed signal and timer is checkpointed to a step
// log keyed by (saga ID, sequence), and restart replays the log so completed
// side effects are never re-executed. Timers are rows in a scheduled-task
// table polled by a lightweight dispatcher.
//
// Each instance is a single-threaded logical actor: its local state is only
// mutated by its own sequential execution, fed by a per-instance mailbox.
// Instances with different saga IDs run fully in parallel.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spotlabs/spot-sagas/internal/saga"
	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

var (
	// ErrAlreadyRunning is returned on a duplicate start. Callers treat it
	// as an idempotent no-op, not a failure.
	ErrAlreadyRunning = errors.New("workflow: saga already running")

	// ErrNotRunning is returned when a signal targets an unknown or
	// finished saga. Callers absorb it: the signal raced a terminal state.
	ErrNotRunning = errors.New("workflow: no running saga with that id")
)

// Handler is a saga entry point. It must be deterministic; see Context.
type Handler func(c *Context) error

type instance struct {
	id      string
	handler string
	input   []byte
	mbox    *mailbox
	done    chan struct{}
	err     error
}

// Engine hosts saga instances: one goroutine per running saga, keyed by saga
// ID so that at most one instance exists per ID.
type Engine struct {
	log   steplog.Repository
	retry saga.RetryPolicy

	mu       sync.Mutex
	handlers map[string]Handler
	running  map[string]*instance
}

// Option configures the engine.
type Option func(*Engine)

// WithRetryPolicy overrides the per-step retry policy; tests shrink it.
func WithRetryPolicy(p saga.RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// New returns an engine persisting through log.
func New(log steplog.Repository, opts ...Option) *Engine {
	e := &Engine{
		log:      log,
		retry:    saga.DefaultRetryPolicy(),
		handlers: make(map[string]Handler),
		running:  make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds a handler name to a Handler. Names are persisted with each
// instance so recovery can relaunch it.
func (e *Engine) Register(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = h
}

// Start launches a new saga instance. A second start with the same saga ID
// returns ErrAlreadyRunning — whether the first is still in flight or was
// recorded by a previous process.
func (e *Engine) Start(ctx context.Context, handler, sagaID string, input any) error {
	e.mu.Lock()
	h, ok := e.handlers[handler]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("workflow: unknown handler %q", handler)
	}
	if _, exists := e.running[sagaID]; exists {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.mu.Unlock()

	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("workflow: encode input for %s: %w", sagaID, err)
	}

	inst := &steplog.Instance{
		ID:      sagaID,
		Handler: handler,
		Input:   raw,
		Status:  steplog.InstanceRunning,
	}
	if err := e.log.CreateInstance(ctx, inst); err != nil {
		if errors.Is(err, steplog.ErrDuplicateInstance) {
			return ErrAlreadyRunning
		}
		return err
	}

	e.launch(ctx, sagaID, handler, raw, h, nil)
	return nil
}

// Signal queues a signal for a running instance. The payload is marshalled to
// JSON; the saga decodes it when it consumes the event.
func (e *Engine) Signal(_ context.Context, sagaID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workflow: encode signal for %s: %w", sagaID, err)
	}

	e.mu.Lock()
	inst := e.running[sagaID]
	e.mu.Unlock()
	if inst == nil {
		return ErrNotRunning
	}
	inst.mbox.push(Event{Signal: raw})
	return nil
}

// Recover relaunches every instance the log still marks RUNNING. Completed
// steps are skipped during replay; recorded events are re-delivered in order.
// Signals that were queued but never consumed before the crash are not
// recovered — the at-least-once bus redelivers them.
func (e *Engine) Recover(ctx context.Context) error {
	instances, err := e.log.RunningInstances(ctx)
	if err != nil {
		return fmt.Errorf("workflow: list running instances: %w", err)
	}

	for _, rec := range instances {
		e.mu.Lock()
		_, alreadyRunning := e.running[rec.ID]
		h, ok := e.handlers[rec.Handler]
		e.mu.Unlock()
		if alreadyRunning {
			continue
		}
		if !ok {
			slog.ErrorContext(ctx, "cannot recover saga: handler not registered",
				"saga_id", rec.ID, "handler", rec.Handler)
			continue
		}

		steps, err := e.log.Steps(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("workflow: load steps for %s: %w", rec.ID, err)
		}
		slog.InfoContext(ctx, "recovering saga", "saga_id", rec.ID, "checkpoints", len(steps))
		e.launch(ctx, rec.ID, rec.Handler, rec.Input, h, steps)
	}
	return nil
}

// Await blocks until the saga finishes and returns its terminal error, if
// any. Finished sagas are answered from the step log, so nothing about them
// has to stay resident. Mostly useful for tests and synchronous callers.
func (e *Engine) Await(ctx context.Context, sagaID string) error {
	e.mu.Lock()
	inst := e.running[sagaID]
	e.mu.Unlock()

	if inst == nil {
		rec, err := e.log.GetInstance(ctx, sagaID)
		if err != nil {
			return err
		}
		switch rec.Status {
		case steplog.InstanceCompleted:
			return nil
		case steplog.InstanceFailed:
			return errors.New(rec.Error)
		default:
			return ErrNotRunning
		}
	}

	select {
	case <-inst.done:
		return inst.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the saga currently has a live instance.
func (e *Engine) IsRunning(sagaID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[sagaID]
	return ok
}

// deliverTimer pushes a timer fire to the owning instance's mailbox. Returns
// false when the instance is not running in this process.
func (e *Engine) deliverTimer(sagaID, timerID string) bool {
	e.mu.Lock()
	inst := e.running[sagaID]
	e.mu.Unlock()
	if inst == nil {
		return false
	}
	inst.mbox.push(Event{Timer: timerID})
	return true
}

func (e *Engine) launch(ctx context.Context, sagaID, handler string, input []byte, h Handler, recorded []steplog.Step) {
	inst := &instance{
		id:      sagaID,
		handler: handler,
		input:   input,
		mbox:    newMailbox(),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.running[sagaID] = inst
	e.mu.Unlock()

	// Detach from the caller's context so a finished HTTP request or bus
	// delivery does not cancel a multi-hour saga; tracing metadata is kept.
	runCtx := context.WithoutCancel(ctx)
	go e.run(runCtx, inst, h, recorded)
}

func (e *Engine) run(ctx context.Context, inst *instance, h Handler, recorded []steplog.Step) {
	wc := &Context{
		ctx:      ctx,
		engine:   e,
		sagaID:   inst.id,
		input:    inst.input,
		mbox:     inst.mbox,
		recorded: recorded,
	}

	err := h(wc)

	status := steplog.InstanceCompleted
	errMsg := ""
	if err != nil {
		status = steplog.InstanceFailed
		errMsg = err.Error()
		slog.ErrorContext(ctx, "saga failed", "saga_id", inst.id, "error", err)
	} else {
		slog.InfoContext(ctx, "saga completed", "saga_id", inst.id)
	}

	if ferr := e.log.FinishInstance(ctx, inst.id, status, errMsg); ferr != nil {
		slog.ErrorContext(ctx, "failed to record saga outcome", "saga_id", inst.id, "error", ferr)
	}

	// The outcome is durable before the instance is dropped, so an Await
	// arriving after this point reads it from the log.
	e.mu.Lock()
	inst.err = err
	delete(e.running, inst.id)
	close(inst.done)
	e.mu.Unlock()
}
