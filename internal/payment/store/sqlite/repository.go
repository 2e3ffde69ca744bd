// Package sqlite implements the payment repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spotlabs/spot-sagas/internal/payment/domain"
	"github.com/spotlabs/spot-sagas/internal/payment/store"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS payments (
    id          TEXT PRIMARY KEY,
    order_id    TEXT    NOT NULL,
    user_id     INTEGER NOT NULL,
    status      TEXT    NOT NULL,
    method      TEXT    NOT NULL,
    amount      INTEGER NOT NULL,
    -- Gateway reference; empty until the capture succeeds.
    payment_key TEXT    NOT NULL DEFAULT '',
    created_at  TEXT    NOT NULL,
    updated_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id);
`

type Repository struct {
	db *sql.DB
}

var _ store.Repository = (*Repository)(nil)

func New(db *sql.DB) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("payment sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Create(ctx context.Context, q storage.Querier, p *domain.Payment) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	const query = `
		INSERT INTO payments (id, order_id, user_id, status, method, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		p.ID, p.OrderID, p.UserID, string(domain.StatusReady), string(p.Method), p.Amount, now, now)
	if err != nil {
		return fmt.Errorf("payment sqlite: insert %q: %w", p.ID, err)
	}
	p.Status = domain.StatusReady
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	const q = `
		SELECT id, order_id, user_id, status, method, amount, payment_key, created_at, updated_at
		FROM payments WHERE id = ?`
	p, err := scanPayment(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment sqlite: get %q: %w", id, err)
	}
	return p, nil
}

func (r *Repository) ActiveByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	const q = `
		SELECT id, order_id, user_id, status, method, amount, payment_key, created_at, updated_at
		FROM payments
		WHERE order_id = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`

	p, err := scanPayment(r.db.QueryRowContext(ctx, q, orderID,
		string(domain.StatusAborted), string(domain.StatusCancelled)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment sqlite: active payment for order %q: %w", orderID, err)
	}
	return p, nil
}

func (r *Repository) LatestByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	const q = `
		SELECT id, order_id, user_id, status, method, amount, payment_key, created_at, updated_at
		FROM payments WHERE order_id = ?
		ORDER BY created_at DESC LIMIT 1`

	p, err := scanPayment(r.db.QueryRowContext(ctx, q, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment sqlite: latest payment for order %q: %w", orderID, err)
	}
	return p, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, q storage.Querier, id string, status domain.Status) error {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`
	res, err := q.ExecContext(ctx, query,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("payment sqlite: update status %q -> %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) RecordCapture(ctx context.Context, q storage.Querier, id, paymentKey string) error {
	const query = `UPDATE payments SET status = ?, payment_key = ?, updated_at = ? WHERE id = ?`
	res, err := q.ExecContext(ctx, query,
		string(domain.StatusSucceeded), paymentKey, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("payment sqlite: record capture %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanPayment(row *sql.Row) (*domain.Payment, error) {
	var p domain.Payment
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.Status, &p.Method,
		&p.Amount, &p.PaymentKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}
