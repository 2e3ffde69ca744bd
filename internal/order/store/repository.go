// Package store is the persistence port for the order aggregate. Mutating
// methods take a storage.Querier so the owning saga step can couple the write
// with its outbox event in one transaction.
package store

import (
	"context"
	"errors"

	"github.com/spotlabs/spot-sagas/internal/order/domain"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

// ErrNotFound is returned for lookups of unknown orders.
var ErrNotFound = errors.New("order not found")

// StatusUpdate carries the optional attributes a transition records alongside
// the new status.
type StatusUpdate struct {
	Next          domain.Status
	EstimatedTime *int
	Reason        string
	Actor         domain.CancelledBy
}

type Repository interface {
	// Create inserts the order with its item/option price snapshots.
	Create(ctx context.Context, q storage.Querier, o *domain.Order) error

	// Exists reports whether the order is already persisted; the create
	// step uses it to stay idempotent across retries.
	Exists(ctx context.Context, id string) (bool, error)

	Get(ctx context.Context, id string) (*domain.Order, error)

	// Status reads the current status through q, so a caller holding a
	// write transaction observes its own view.
	Status(ctx context.Context, q storage.Querier, id string) (domain.Status, error)

	// UpdateStatus applies the transition. It does not consult the rule
	// table; that is the caller's job, under the same transaction.
	UpdateStatus(ctx context.Context, q storage.Querier, id string, upd StatusUpdate) error
}
