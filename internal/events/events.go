// Package events defines the topics and payloads exchanged between the order
// and payment domains. The two domains share nothing else: every cross-domain
// interaction is one of these events flowing through the outbox and the bus.
package events

const (
	TopicOrderCreated   = "order.created"
	TopicOrderPending   = "order.pending"
	TopicOrderAccepted  = "order.accepted"
	TopicOrderCancelled = "order.cancelled"

	TopicPaymentSucceeded    = "payment.succeeded"
	TopicPaymentRefunded     = "payment.refunded"
	TopicPaymentAuthRequired = "payment.auth_required"
)

// OrderCreated asks the payment domain to start an approval for the order.
type OrderCreated struct {
	OrderID string `json:"order_id"`
	UserID  int    `json:"user_id"`
	Amount  int64  `json:"amount"`
}

// OrderPending notifies the store that a paid order is waiting for acceptance.
type OrderPending struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
}

// OrderAccepted notifies the customer that the merchant accepted the order.
type OrderAccepted struct {
	OrderID       string `json:"order_id"`
	UserID        int    `json:"user_id"`
	EstimatedTime int    `json:"estimated_time"`
}

// OrderCancelled asks the payment domain to refund whatever was captured for
// the order. It covers both customer/store cancellations and rejections.
type OrderCancelled struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentSucceeded tells the order domain the capture went through.
type PaymentSucceeded struct {
	OrderID string `json:"order_id"`
}

// PaymentRefunded tells the order domain the refund landed.
type PaymentRefunded struct {
	OrderID string `json:"order_id"`
}

// PaymentAuthRequired is published when an approval saga gives up; it carries
// the failure reason so a notification channel can ask the customer to retry.
type PaymentAuthRequired struct {
	OrderID string `json:"order_id"`
	UserID  int    `json:"user_id"`
	Message string `json:"message"`
}
