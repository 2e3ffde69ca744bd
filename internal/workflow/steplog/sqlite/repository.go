// Package sqlite provides the SQLite-backed implementation of
// steplog.Repository. It follows the same conventions as the rest of the
// storage layer: append-only checkpoint rows, RFC3339 TEXT timestamps, and a
// single writer connection shared through *sql.DB.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spotlabs/spot-sagas/internal/workflow/steplog"
)

const schema = `
CREATE TABLE IF NOT EXISTS saga_instances (
    -- Saga ID: the order ID, or "approve:"/"cancel:" + order ID.
    id          TEXT PRIMARY KEY,
    handler     TEXT NOT NULL,
    input       TEXT NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_instances_status ON saga_instances(status);

CREATE TABLE IF NOT EXISTS saga_steps (
    saga_id     TEXT    NOT NULL,
    seq         INTEGER NOT NULL,
    kind        TEXT    NOT NULL,
    name        TEXT    NOT NULL DEFAULT '',
    status      TEXT    NOT NULL,
    output      TEXT    NOT NULL DEFAULT '',
    error       TEXT    NOT NULL DEFAULT '',
    trace_id    TEXT    NOT NULL DEFAULT '',
    span_id     TEXT    NOT NULL DEFAULT '',
    recorded_at TEXT    NOT NULL,
    PRIMARY KEY (saga_id, seq)
);

CREATE TABLE IF NOT EXISTS saga_timers (
    id          TEXT PRIMARY KEY,
    saga_id     TEXT NOT NULL,
    fire_at     TEXT NOT NULL,
    status      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_timers_due ON saga_timers(status, fire_at);
`

// Repository is the SQLite implementation of steplog.Repository.
type Repository struct {
	db *sql.DB
}

// New applies the schema and returns the repository.
func New(db *sql.DB) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("steplog sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) CreateInstance(ctx context.Context, inst *steplog.Instance) error {
	const q = `
		INSERT INTO saga_instances (id, handler, input, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, q,
		inst.ID, inst.Handler, string(inst.Input), string(inst.Status), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return steplog.ErrDuplicateInstance
		}
		return fmt.Errorf("steplog sqlite: create instance %q: %w", inst.ID, err)
	}
	return nil
}

func (r *Repository) FinishInstance(ctx context.Context, sagaID string, status steplog.InstanceStatus, errMsg string) error {
	const q = `UPDATE saga_instances SET status = ?, error = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q, string(status), errMsg, formatTime(time.Now()), sagaID); err != nil {
		return fmt.Errorf("steplog sqlite: finish instance %q: %w", sagaID, err)
	}
	return nil
}

func (r *Repository) GetInstance(ctx context.Context, sagaID string) (*steplog.Instance, error) {
	const q = `
		SELECT id, handler, input, status, error, created_at, updated_at
		FROM saga_instances WHERE id = ?`

	inst, err := scanInstance(r.db.QueryRowContext(ctx, q, sagaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, steplog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steplog sqlite: get instance %q: %w", sagaID, err)
	}
	return inst, nil
}

func (r *Repository) RunningInstances(ctx context.Context) ([]steplog.Instance, error) {
	const q = `
		SELECT id, handler, input, status, error, created_at, updated_at
		FROM saga_instances WHERE status = ? ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, q, string(steplog.InstanceRunning))
	if err != nil {
		return nil, fmt.Errorf("steplog sqlite: list running instances: %w", err)
	}
	defer rows.Close()

	var out []steplog.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("steplog sqlite: scan instance: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func (r *Repository) AppendStep(ctx context.Context, step *steplog.Step) error {
	const q = `
		INSERT INTO saga_steps
			(saga_id, seq, kind, name, status, output, error, trace_id, span_id, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		step.SagaID, step.Seq, string(step.Kind), step.Name, string(step.Status),
		step.Output, step.Error, step.TraceID, step.SpanID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("steplog sqlite: append step %q seq %d: %w", step.SagaID, step.Seq, err)
	}
	return nil
}

func (r *Repository) Steps(ctx context.Context, sagaID string) ([]steplog.Step, error) {
	const q = `
		SELECT saga_id, seq, kind, name, status, output, error, trace_id, span_id, recorded_at
		FROM saga_steps WHERE saga_id = ? ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, q, sagaID)
	if err != nil {
		return nil, fmt.Errorf("steplog sqlite: steps for %q: %w", sagaID, err)
	}
	defer rows.Close()

	var out []steplog.Step
	for rows.Next() {
		var s steplog.Step
		var recordedAt string
		if err := rows.Scan(&s.SagaID, &s.Seq, &s.Kind, &s.Name, &s.Status,
			&s.Output, &s.Error, &s.TraceID, &s.SpanID, &recordedAt); err != nil {
			return nil, fmt.Errorf("steplog sqlite: scan step: %w", err)
		}
		s.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) CreateTimer(ctx context.Context, timer *steplog.Timer) error {
	const q = `INSERT INTO saga_timers (id, saga_id, fire_at, status) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		timer.ID, timer.SagaID, formatTime(timer.FireAt), string(steplog.TimerPending))
	if err != nil {
		return fmt.Errorf("steplog sqlite: create timer %q: %w", timer.ID, err)
	}
	return nil
}

func (r *Repository) CancelTimer(ctx context.Context, timerID string) error {
	const q = `UPDATE saga_timers SET status = ? WHERE id = ? AND status = ?`
	_, err := r.db.ExecContext(ctx, q,
		string(steplog.TimerCancelled), timerID, string(steplog.TimerPending))
	if err != nil {
		return fmt.Errorf("steplog sqlite: cancel timer %q: %w", timerID, err)
	}
	return nil
}

func (r *Repository) DueTimers(ctx context.Context, now time.Time) ([]steplog.Timer, error) {
	const q = `
		SELECT id, saga_id, fire_at, status FROM saga_timers
		WHERE status = ? AND fire_at <= ? ORDER BY fire_at`

	rows, err := r.db.QueryContext(ctx, q, string(steplog.TimerPending), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("steplog sqlite: due timers: %w", err)
	}
	defer rows.Close()

	var out []steplog.Timer
	for rows.Next() {
		var t steplog.Timer
		var fireAt string
		if err := rows.Scan(&t.ID, &t.SagaID, &fireAt, &t.Status); err != nil {
			return nil, fmt.Errorf("steplog sqlite: scan timer: %w", err)
		}
		t.FireAt, _ = time.Parse(time.RFC3339Nano, fireAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) MarkTimerFired(ctx context.Context, timerID string) error {
	const q = `UPDATE saga_timers SET status = ? WHERE id = ? AND status = ?`
	_, err := r.db.ExecContext(ctx, q,
		string(steplog.TimerFired), timerID, string(steplog.TimerPending))
	if err != nil {
		return fmt.Errorf("steplog sqlite: mark timer fired %q: %w", timerID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*steplog.Instance, error) {
	var inst steplog.Instance
	var input, createdAt, updatedAt string
	if err := row.Scan(&inst.ID, &inst.Handler, &input, &inst.Status,
		&inst.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inst.Input = []byte(input)
	inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &inst, nil
}

// formatTime stores timestamps as RFC3339 TEXT, the SQLite idiom used across
// this module.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// isUniqueViolation detects a primary-key conflict from the modernc driver,
// which reports constraint failures as plain error strings.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
