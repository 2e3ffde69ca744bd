package steplog

import (
	"context"
	"time"
)

// Repository is the port the engine persists through. The engine depends on
// this abstraction, not on SQLite directly, so tests can run against the
// in-memory implementation.
type Repository interface {
	// CreateInstance persists a new instance row. Returns
	// ErrDuplicateInstance when the saga ID is already taken.
	CreateInstance(ctx context.Context, inst *Instance) error

	// FinishInstance records the terminal status of an instance.
	FinishInstance(ctx context.Context, sagaID string, status InstanceStatus, errMsg string) error

	// GetInstance returns an instance by saga ID, or ErrNotFound.
	GetInstance(ctx context.Context, sagaID string) (*Instance, error)

	// RunningInstances lists every instance still marked RUNNING; used by
	// crash recovery.
	RunningInstances(ctx context.Context) ([]Instance, error)

	// AppendStep persists one checkpoint row.
	AppendStep(ctx context.Context, step *Step) error

	// Steps returns all checkpoint rows for a saga in seq order.
	Steps(ctx context.Context, sagaID string) ([]Step, error)

	// CreateTimer schedules a timer row.
	CreateTimer(ctx context.Context, timer *Timer) error

	// CancelTimer marks a PENDING timer CANCELLED. Cancelling a timer that
	// already fired is a no-op.
	CancelTimer(ctx context.Context, timerID string) error

	// DueTimers returns PENDING timers with fire_at <= now.
	DueTimers(ctx context.Context, now time.Time) ([]Timer, error)

	// MarkTimerFired marks a timer FIRED so it is delivered at most once.
	MarkTimerFired(ctx context.Context, timerID string) error
}
