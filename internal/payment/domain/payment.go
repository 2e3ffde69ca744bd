// Package domain holds the payment aggregate. A payment belongs to exactly
// one order and at most one payment per order may be active at a time.
package domain

import "time"

type Status string

const (
	StatusReady            Status = "READY"       // row created, approval saga not yet started
	StatusInProgress       Status = "IN_PROGRESS" // approval saga running
	StatusSucceeded        Status = "SUCCEEDED"   // captured at the gateway
	StatusAborted          Status = "ABORTED"     // approval failed terminally
	StatusCancelInProgress Status = "CANCEL_IN_PROGRESS"
	StatusCancelled        Status = "CANCELLED"
	StatusCancelFailed     Status = "CANCEL_FAILED"
)

// Active reports whether the payment still counts as the order's live
// payment. Refund lookups resolve only active payments; a missing active
// payment makes the refund a successful no-op.
func (s Status) Active() bool {
	return s != StatusAborted && s != StatusCancelled
}

// Refundable reports whether a refund may be attempted against the payment.
func (s Status) Refundable() bool {
	switch s {
	case StatusSucceeded, StatusCancelInProgress, StatusCancelFailed:
		return true
	}
	return false
}

type Method string

const (
	MethodCreditCard Method = "CREDIT_CARD"
)

type Payment struct {
	ID         string
	OrderID    string
	UserID     int
	Status     Status
	Method     Method
	Amount     int64
	PaymentKey string // gateway reference, set once the capture succeeds
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
