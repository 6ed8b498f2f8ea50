package models

import (
	"database/sql"
	"time"
)

// Order represents a customer order. Monetary values are in cents.
type Order struct {
	ID            int64          `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	Amount        int64          `db:"amount" json:"amount"`
	Discount      int64          `db:"discount" json:"discount"`
	PromoCode     string         `db:"promo_code" json:"promo_code,omitempty"`
	Status        string         `db:"status" json:"status"`
	Address       string         `db:"address" json:"address"`
	PaymentDone   bool           `db:"payment_done" json:"payment_done"`
	GatewayRef    sql.NullString `db:"gateway_ref" json:"gateway_ref,omitempty"`
	PaidAt        sql.NullTime   `db:"paid_at" json:"paid_at,omitempty"`
	ReceiptFailed bool           `db:"receipt_failed" json:"receipt_failed"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a line item; immutable once the order is paid.
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"order_id"`
	Name      string `db:"name" json:"name"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
	Quantity  int    `db:"quantity" json:"quantity"`
}

// Order statuses
const (
	OrderStatusPending        = "PENDING"
	OrderStatusProcessing     = "PROCESSING"
	OrderStatusOutForDelivery = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      = "DELIVERED"
	OrderStatusCancelled      = "CANCELLED"
	OrderStatusRefunded       = "REFUNDED"
	OrderStatusPaymentFailed  = "PAYMENT_FAILED"
)

// Discount kinds
const (
	DiscountPercentage  = "percentage"
	DiscountFixed       = "fixed"
	DiscountConditional = "conditional"
)

// Roles supplied by the external auth layer.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// PromoCode represents a discount code and its redemption rules.
// UsageCount must always equal the number of Redemption rows for the code;
// both are only mutated together inside a single transaction.
type PromoCode struct {
	Code         string    `db:"code" json:"code"`
	Kind         string    `db:"kind" json:"kind"`
	Value        int64     `db:"value" json:"value"`
	MaxDiscount  int64     `db:"max_discount" json:"max_discount"`
	UsageLimit   int       `db:"usage_limit" json:"usage_limit"`
	PerUserLimit int       `db:"per_user_limit" json:"per_user_limit"`
	MinItems     int       `db:"min_items" json:"min_items"`
	MinAmount    int64     `db:"min_amount" json:"min_amount"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	Active       bool      `db:"active" json:"active"`
	UsageCount   int       `db:"usage_count" json:"usage_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Redemption is one row in a promo code's ledger.
type Redemption struct {
	ID          int64     `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	UserID      int64     `db:"user_id" json:"user_id"`
	OrderID     int64     `db:"order_id" json:"order_id"`
	OrderAmount int64     `db:"order_amount" json:"order_amount"`
	Discount    int64     `db:"discount" json:"discount"`
	UsedAt      time.Time `db:"used_at" json:"used_at"`
}

// Subscription is a device push registration, unique per (user_id, endpoint).
type Subscription struct {
	ID         int64        `db:"id" json:"id"`
	UserID     int64        `db:"user_id" json:"user_id"`
	Endpoint   string       `db:"endpoint" json:"endpoint"`
	P256dh     string       `db:"p256dh" json:"p256dh"`
	Auth       string       `db:"auth" json:"auth"`
	ExpiresAt  sql.NullTime `db:"expires_at" json:"expires_at,omitempty"`
	LastActive time.Time    `db:"last_active" json:"last_active"`
}
