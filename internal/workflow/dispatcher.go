package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

// Dispatcher polls the scheduled-task table and delivers due timer fires to
// their owning sagas. Delivery happens before the timer is marked fired, so a
// crash in between re-delivers after restart; duplicates are harmless because
// sagas ignore fires for timer IDs they no longer wait on.
type Dispatcher struct {
	engine   *Engine
	log      steplog.Repository
	interval time.Duration
}

// NewDispatcher returns a dispatcher polling at the given interval
// (default 500ms).
func NewDispatcher(engine *Engine, log steplog.Repository, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Dispatcher{engine: engine, log: log, interval: interval}
}

// Run polls until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	due, err := d.log.DueTimers(ctx, time.Now())
	if err != nil {
		slog.ErrorContext(ctx, "timer poll failed", "error", err)
		return
	}

	for _, t := range due {
		if d.engine.deliverTimer(t.SagaID, t.ID) {
			if err := d.log.MarkTimerFired(ctx, t.ID); err != nil {
				slog.ErrorContext(ctx, "failed to mark timer fired", "timer_id", t.ID, "error", err)
			}
			continue
		}

		// Owning saga is not running here. If it already finished, the
		// timer is an orphan and can be reaped; if it is merely not yet
		// recovered, leave the row pending for the next poll.
		inst, err := d.log.GetInstance(ctx, t.SagaID)
		if err != nil {
			if !errors.Is(err, steplog.ErrNotFound) {
				slog.ErrorContext(ctx, "timer owner lookup failed", "saga_id", t.SagaID, "error", err)
			}
			continue
		}
		if inst.Status != steplog.InstanceRunning {
			_ = d.log.CancelTimer(ctx, t.ID)
		}
	}
}
