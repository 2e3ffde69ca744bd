package domain

// Status is the order lifecycle state.
type Status string

const (
	StatusPaymentPending Status = "PAYMENT_PENDING" // order created, capture in flight
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusPending        Status = "PENDING" // paid, waiting for merchant acceptance
	StatusAccepted       Status = "ACCEPTED"
	StatusRejectPending  Status = "REJECT_PENDING"
	StatusRejected       Status = "REJECTED"
	StatusCooking        Status = "COOKING"
	StatusReady          Status = "READY"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelPending  Status = "CANCEL_PENDING"
	StatusCancelled      Status = "CANCELLED"
	StatusRefundError    Status = "REFUND_ERROR" // refund never confirmed, needs an operator
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusPaymentFailed, StatusRefundError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is allowed.
// Callers must treat a denied transition as a no-op, not an error: two racing
// signals can legitimately propose a transition that has already been
// superseded.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPaymentPending:
		return next == StatusPending || next == StatusPaymentFailed || next == StatusCancelled
	case StatusPaymentFailed:
		// re-payment is allowed
		return next == StatusPaymentPending || next == StatusCancelled
	case StatusPending:
		return next == StatusAccepted || next == StatusRejectPending || next == StatusCancelPending
	case StatusAccepted:
		return next == StatusCooking || next == StatusCancelPending
	case StatusCooking:
		return next == StatusReady || next == StatusCancelPending
	case StatusReady:
		return next == StatusCompleted
	case StatusRejectPending:
		return next == StatusRejected || next == StatusRefundError
	case StatusCancelPending:
		return next == StatusCancelled || next == StatusRefundError
	default:
		return false
	}
}

// CancelledBy identifies who initiated a cancellation.
type CancelledBy string

const (
	CancelledByCustomer CancelledBy = "CUSTOMER"
	CancelledByStore    CancelledBy = "STORE"
	CancelledBySystem   CancelledBy = "SYSTEM"
)
