// Package store is the persistence port for payments.
package store

import (
	"context"
	"errors"

	"github.com/spotlabs/spot-sagas/internal/payment/domain"
	"github.com/spotlabs/spot-sagas/internal/pkg/storage"
)

// ErrNotFound is returned when no payment (or no active payment) matches.
var ErrNotFound = errors.New("payment not found")

type Repository interface {
	// Create inserts a new payment row in READY status.
	Create(ctx context.Context, q storage.Querier, p *domain.Payment) error

	Get(ctx context.Context, id string) (*domain.Payment, error)

	// ActiveByOrder resolves the order's single active payment, or
	// ErrNotFound. "Active" means not yet aborted or cancelled.
	ActiveByOrder(ctx context.Context, orderID string) (*domain.Payment, error)

	// LatestByOrder resolves the order's most recent payment regardless of
	// status; operator lookups need to see aborted attempts too.
	LatestByOrder(ctx context.Context, orderID string) (*domain.Payment, error)

	UpdateStatus(ctx context.Context, q storage.Querier, id string, status domain.Status) error

	// RecordCapture stores the gateway payment key and moves the payment
	// to SUCCEEDED in one write.
	RecordCapture(ctx context.Context, q storage.Querier, id, paymentKey string) error
}
