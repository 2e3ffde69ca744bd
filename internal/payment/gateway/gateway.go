// Package gateway is the port to the external payment provider. Both calls
// take an idempotency key so the saga can retry them safely: the provider
// deduplicates on the key, and so does the fake.
package gateway

import "context"

type Gateway interface {
	// Capture charges the stored billing key and returns the provider's
	// payment key. Repeat calls with the same idempotency key return the
	// original key without charging again.
	Capture(ctx context.Context, orderID string, amount int64, idempotencyKey string) (string, error)

	// Refund reverses a captured payment. Safe to repeat with the same
	// idempotency key.
	Refund(ctx context.Context, paymentKey, reason, idempotencyKey string) error
}
