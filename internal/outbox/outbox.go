// Package outbox makes event publication transactional: a domain write and
// its event land in the same SQLite transaction, and a relay goroutine drains
// the table onto the bus afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

// Event is one row awaiting (or past) publication.
type Event struct {
	ID          int64
	Topic       string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type Store interface {
	// Append records the event through q, which is expected to be the
	// transaction carrying the domain write the event describes.
	Append(ctx context.Context, q storage.Querier, topic string, payload any) error

	// Pending returns up to limit unpublished events, oldest first.
	Pending(ctx context.Context, limit int) ([]Event, error)

	MarkPublished(ctx context.Context, id int64) error

	// DeletePublishedBefore prunes published rows older than cutoff and
	// returns how many it removed.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func marshalPayload(topic string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal %s payload: %w", topic, err)
	}
	return body, nil
}
