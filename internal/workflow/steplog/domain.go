// Package steplog defines the durable execution log behind the workflow
// engine.
//
// Every saga instance checkpoints its progress here: each completed (or
// terminally failed) step is a row keyed by (saga_id, seq), and every
// consumed signal or timer fire is recorded the same way. On restart the
// engine replays an instance by walking its rows in seq order — completed
// steps are skipped, recorded events are re-delivered — so a crash never
// re-executes a side effect that already committed.
package steplog

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateInstance is returned when an instance with the same saga
	// ID already exists. Duplicate starts are rejected, never merged.
	ErrDuplicateInstance = errors.New("steplog: instance already exists")

	// ErrNotFound is returned for lookups of unknown sagas or timers.
	ErrNotFound = errors.New("steplog: not found")
)

// InstanceStatus is the lifecycle state of a saga instance.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "RUNNING"
	InstanceCompleted InstanceStatus = "COMPLETED"
	InstanceFailed    InstanceStatus = "FAILED"
)

// Instance is one durable saga execution.
type Instance struct {
	ID        string // saga ID, e.g. the order ID or "approve:<orderID>"
	Handler   string // registered handler name, used to relaunch on recovery
	Input     []byte // JSON input the saga was started with
	Status    InstanceStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepKind distinguishes what a checkpoint row records.
type StepKind string

const (
	KindRun         StepKind = "RUN"          // a durable unit of work
	KindEvent       StepKind = "EVENT"        // a consumed signal or timer fire
	KindTimerStart  StepKind = "TIMER_START"  // a scheduled timer
	KindTimerCancel StepKind = "TIMER_CANCEL" // a cancelled timer
)

// StepStatus is the recorded outcome of a step.
type StepStatus string

const (
	StepDone   StepStatus = "DONE"
	StepFailed StepStatus = "FAILED"
)

// Step is one checkpoint row. Output carries the step's recorded result: the
// string result of a RUN, the JSON event of an EVENT, the timer ID of a
// TIMER_START.
type Step struct {
	SagaID     string
	Seq        int
	Kind       StepKind
	Name       string
	Status     StepStatus
	Output     string
	Error      string
	TraceID    string
	SpanID     string
	RecordedAt time.Time
}

// TimerStatus is the lifecycle state of a scheduled timer.
type TimerStatus string

const (
	TimerPending   TimerStatus = "PENDING"
	TimerFired     TimerStatus = "FIRED"
	TimerCancelled TimerStatus = "CANCELLED"
)

// Timer is a scheduled-task row. The dispatcher polls for due PENDING timers
// and delivers a fire event to the owning saga.
type Timer struct {
	ID     string
	SagaID string
	FireAt time.Time
	Status TimerStatus
}
