// Package sqlite persists the outbox in the shared database so event appends
// can join the domain write's transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spotlabs/spot-sagas/internal/outbox"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox_events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    topic        TEXT NOT NULL,
    payload      TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    published_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending
    ON outbox_events(id) WHERE published_at IS NULL;
`

type Store struct {
	db *sql.DB
}

var _ outbox.Store = (*Store)(nil)

func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("outbox sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, q storage.Querier, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox sqlite: marshal %s payload: %w", topic, err)
	}
	const query = `INSERT INTO outbox_events (topic, payload, created_at) VALUES (?, ?, ?)`
	if _, err := q.ExecContext(ctx, query, topic, string(body),
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("outbox sqlite: append %s: %w", topic, err)
	}
	return nil
}

func (s *Store) Pending(ctx context.Context, limit int) ([]outbox.Event, error) {
	const query = `
		SELECT id, topic, payload, created_at
		FROM outbox_events WHERE published_at IS NULL
		ORDER BY id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox sqlite: pending: %w", err)
	}
	defer rows.Close()

	var out []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var payload, createdAt string
		if err := rows.Scan(&ev.ID, &ev.Topic, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("outbox sqlite: scan pending: %w", err)
		}
		ev.Payload = []byte(payload)
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	const query = `UPDATE outbox_events SET published_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query,
		time.Now().UTC().Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("outbox sqlite: mark published %d: %w", id, err)
	}
	return nil
}

func (s *Store) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < ?`
	res, err := s.db.ExecContext(ctx, query, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("outbox sqlite: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
