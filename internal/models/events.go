package models

import "time"

// Event types published to the broker. These are the decoupled side-effect
// channels: a committed state change publishes, workers consume.
const (
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeReceiptRequested   = "RECEIPT_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderStatusChangedEvent published after an order transition that the
// customer should hear about. Consumed by the notification worker.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	UserID      int64  `json:"user_id"`
	Status      string `json:"status"`
	ItemSummary string `json:"item_summary"`
}

// ReceiptRequestedEvent published once per confirmed payment. Consumed by the
// receipt worker; delivery failure flags the order, never the payment.
type ReceiptRequestedEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}
