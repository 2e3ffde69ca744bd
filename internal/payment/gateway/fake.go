package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-process provider with real idempotency semantics. Tests (and
// local runs without provider credentials) inject failures through the
// CaptureErr/RefundErr hooks.
type Fake struct {
	mu       sync.Mutex
	captures map[string]string // idempotency key -> payment key
	refunds  map[string]bool   // idempotency key -> done

	// CaptureErr and RefundErr, when set, are consulted before each call;
	// a non-nil return is surfaced without recording anything.
	CaptureErr func(orderID string) error
	RefundErr  func(paymentKey string) error

	captureCalls int
	refundCalls  int
}

var _ Gateway = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		captures: make(map[string]string),
		refunds:  make(map[string]bool),
	}
}

func (f *Fake) Capture(_ context.Context, orderID string, amount int64, idempotencyKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if key, ok := f.captures[idempotencyKey]; ok {
		return key, nil
	}
	if f.CaptureErr != nil {
		if err := f.CaptureErr(orderID); err != nil {
			return "", err
		}
	}
	if amount <= 0 {
		return "", fmt.Errorf("capture for order %s: non-positive amount %d", orderID, amount)
	}

	f.captureCalls++
	key := "pay_" + uuid.NewString()
	f.captures[idempotencyKey] = key
	return key, nil
}

func (f *Fake) Refund(_ context.Context, paymentKey, _ string, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refunds[idempotencyKey] {
		return nil
	}
	if f.RefundErr != nil {
		if err := f.RefundErr(paymentKey); err != nil {
			return err
		}
	}

	f.refundCalls++
	f.refunds[idempotencyKey] = true
	return nil
}

// CaptureCalls reports how many distinct captures actually charged.
func (f *Fake) CaptureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captureCalls
}

// RefundCalls reports how many distinct refunds actually executed.
func (f *Fake) RefundCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refundCalls
}
