// Package sqlite implements the order repository on SQLite. Status mutations
// are serialised by the shared single-writer connection plus immediate
// transactions — the module's substitute for SELECT ... FOR UPDATE.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spotlabs/spot-sagas/internal/order/domain"
	"github.com/spotlabs/spot-sagas/internal/order/store"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id             TEXT PRIMARY KEY,
    order_number   TEXT    NOT NULL,
    store_id       TEXT    NOT NULL DEFAULT '',
    user_id        INTEGER NOT NULL,
    status         TEXT    NOT NULL,
    pickup_time    TEXT    NOT NULL DEFAULT '',
    estimated_time INTEGER NOT NULL DEFAULT 0,
    reason         TEXT    NOT NULL DEFAULT '',
    cancelled_by   TEXT    NOT NULL DEFAULT '',
    created_at     TEXT    NOT NULL,
    updated_at     TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id  TEXT    NOT NULL REFERENCES orders(id),
    menu_id   TEXT    NOT NULL,
    menu_name TEXT    NOT NULL DEFAULT '',
    -- Price snapshot taken at order creation; never re-read from the catalog.
    price     INTEGER NOT NULL,
    quantity  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS order_item_options (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id   INTEGER NOT NULL REFERENCES order_items(id),
    option_id TEXT    NOT NULL,
    name      TEXT    NOT NULL DEFAULT '',
    price     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);
`

type Repository struct {
	db *sql.DB
}

var _ store.Repository = (*Repository)(nil)

func New(db *sql.DB) (*Repository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("order sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Create(ctx context.Context, q storage.Querier, o *domain.Order) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	number, err := r.nextOrderNumber(ctx, q)
	if err != nil {
		return err
	}

	const insertOrder = `
		INSERT INTO orders
			(id, order_number, store_id, user_id, status, pickup_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.ExecContext(ctx, insertOrder,
		o.ID, number, o.StoreID, o.UserID, string(o.Status), o.PickupTime, now, now); err != nil {
		return fmt.Errorf("order sqlite: insert order %q: %w", o.ID, err)
	}
	o.OrderNumber = number

	const insertItem = `
		INSERT INTO order_items (order_id, menu_id, menu_name, price, quantity)
		VALUES (?, ?, ?, ?, ?)`
	const insertOption = `
		INSERT INTO order_item_options (item_id, option_id, name, price)
		VALUES (?, ?, ?, ?)`

	for _, it := range o.Items {
		res, err := q.ExecContext(ctx, insertItem, o.ID, it.MenuID, it.MenuName, it.Price, it.Quantity)
		if err != nil {
			return fmt.Errorf("order sqlite: insert item for %q: %w", o.ID, err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("order sqlite: item id for %q: %w", o.ID, err)
		}
		for _, opt := range it.Options {
			if _, err := q.ExecContext(ctx, insertOption, itemID, opt.OptionID, opt.Name, opt.Price); err != nil {
				return fmt.Errorf("order sqlite: insert option for %q: %w", o.ID, err)
			}
		}
	}
	return nil
}

func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("order sqlite: exists %q: %w", id, err)
	}
	return n > 0, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Order, error) {
	const q = `
		SELECT id, order_number, store_id, user_id, status, pickup_time,
		       estimated_time, reason, cancelled_by, created_at, updated_at
		FROM orders WHERE id = ?`

	var o domain.Order
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&o.ID, &o.OrderNumber, &o.StoreID, &o.UserID, &o.Status, &o.PickupTime,
		&o.EstimatedTime, &o.Reason, &o.CancelledBy, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order sqlite: get %q: %w", id, err)
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) Status(ctx context.Context, q storage.Querier, id string) (domain.Status, error) {
	var s string
	err := q.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ?`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("order sqlite: status %q: %w", id, err)
	}
	return domain.Status(s), nil
}

func (r *Repository) UpdateStatus(ctx context.Context, q storage.Querier, id string, upd store.StatusUpdate) error {
	const query = `
		UPDATE orders
		SET status = ?,
		    estimated_time = COALESCE(?, estimated_time),
		    reason = CASE WHEN ? != '' THEN ? ELSE reason END,
		    cancelled_by = CASE WHEN ? != '' THEN ? ELSE cancelled_by END,
		    updated_at = ?
		WHERE id = ?`

	var estimated any
	if upd.EstimatedTime != nil {
		estimated = *upd.EstimatedTime
	}
	res, err := q.ExecContext(ctx, query,
		string(upd.Next),
		estimated,
		upd.Reason, upd.Reason,
		string(upd.Actor), string(upd.Actor),
		time.Now().UTC().Format(time.RFC3339Nano),
		id)
	if err != nil {
		return fmt.Errorf("order sqlite: update status %q -> %s: %w", id, upd.Next, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) loadItems(ctx context.Context, o *domain.Order) error {
	const itemsQ = `
		SELECT id, menu_id, menu_name, price, quantity
		FROM order_items WHERE order_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, itemsQ, o.ID)
	if err != nil {
		return fmt.Errorf("order sqlite: items for %q: %w", o.ID, err)
	}
	defer rows.Close()

	itemIDs := make([]int64, 0, 4)
	for rows.Next() {
		var rowID int64
		var it domain.OrderItem
		if err := rows.Scan(&rowID, &it.MenuID, &it.MenuName, &it.Price, &it.Quantity); err != nil {
			return fmt.Errorf("order sqlite: scan item: %w", err)
		}
		o.Items = append(o.Items, it)
		itemIDs = append(itemIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	const optsQ = `
		SELECT option_id, name, price FROM order_item_options
		WHERE item_id = ? ORDER BY id`
	for i, rowID := range itemIDs {
		optRows, err := r.db.QueryContext(ctx, optsQ, rowID)
		if err != nil {
			return fmt.Errorf("order sqlite: options for item %d: %w", rowID, err)
		}
		for optRows.Next() {
			var opt domain.ItemOption
			if err := optRows.Scan(&opt.OptionID, &opt.Name, &opt.Price); err != nil {
				optRows.Close()
				return fmt.Errorf("order sqlite: scan option: %w", err)
			}
			o.Items[i].Options = append(o.Items[i].Options, opt)
		}
		if err := optRows.Err(); err != nil {
			optRows.Close()
			return err
		}
		optRows.Close()
	}
	return nil
}

// nextOrderNumber yields ORDER-yyyymmdd-NNNN, restarting the counter daily.
func (r *Repository) nextOrderNumber(ctx context.Context, q storage.Querier) (string, error) {
	date := time.Now().UTC().Format("20060102")
	prefix := "ORDER-" + date + "-%"

	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM orders WHERE order_number LIKE ?`, prefix).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("order sqlite: order number sequence: %w", err)
	}
	return fmt.Sprintf("ORDER-%s-%04d", date, n+1), nil
}
