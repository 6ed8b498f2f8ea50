package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"resto-backend/internal/models"

	"github.com/lib/pq"
)

// CreateOrder inserts a new order and its line items in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, amount, discount, promo_code, status, address, payment_done)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.UserID, order.Amount, order.Discount, order.PromoCode, order.Status, order.Address); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID,
			`INSERT INTO order_items (order_id, name, unit_price, quantity)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			items[i].OrderID, items[i].Name, items[i].UnitPrice, items[i].Quantity); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrders retrieves all orders, newest first.
func (s *Store) GetOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ConfirmPayment flips a PENDING order to PROCESSING and records the gateway
// reference, conditionally on the current status. The status guard is the
// compare-and-swap that makes duplicate webhook deliveries and racing admin
// actions lose cleanly.
func (s *Store) ConfirmPayment(ctx context.Context, orderID int64, gatewayRef string, paidAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, payment_done = true, gateway_ref = $2, paid_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5 AND payment_done = false`,
		models.OrderStatusProcessing, gatewayRef, paidAt, orderID, models.OrderStatusPending)
	if err != nil {
		return err
	}
	return s.casResult(ctx, res, orderID)
}

// TransitionOrder moves an order from one of the expected statuses to the
// target status, conditionally. Returns ErrInvalidTransition when the order
// exists but is not in any expected status.
func (s *Store) TransitionOrder(ctx context.Context, orderID int64, from []string, to string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`,
		to, orderID, pq.Array(from))
	if err != nil {
		return err
	}
	return s.casResult(ctx, res, orderID)
}

// MarkPaymentFailed flips a still-PENDING order to PAYMENT_FAILED.
func (s *Store) MarkPaymentFailed(ctx context.Context, orderID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, payment_done = false, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.OrderStatusPaymentFailed, orderID, models.OrderStatusPending)
	if err != nil {
		return err
	}
	return s.casResult(ctx, res, orderID)
}

// MarkRefunded flips a paid, non-terminal order to REFUNDED.
func (s *Store) MarkRefunded(ctx context.Context, orderID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, payment_done = false, updated_at = NOW()
		WHERE id = $2 AND payment_done = true AND status = ANY($3)`,
		models.OrderStatusRefunded, orderID,
		pq.Array([]string{models.OrderStatusProcessing, models.OrderStatusOutForDelivery}))
	if err != nil {
		return err
	}
	return s.casResult(ctx, res, orderID)
}

// MarkReceiptFailed flags the order for manual receipt resend.
func (s *Store) MarkReceiptFailed(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET receipt_failed = true, updated_at = NOW() WHERE id = $1", orderID)
	return err
}

// SetGatewayRef stores a freshly issued checkout reference on a PENDING order.
func (s *Store) SetGatewayRef(ctx context.Context, orderID int64, ref string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET gateway_ref = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		ref, orderID, models.OrderStatusPending)
	if err != nil {
		return err
	}
	return s.casResult(ctx, res, orderID)
}

// casResult translates zero affected rows into the reason: a missing order or
// a lost conditional update.
func (s *Store) casResult(ctx context.Context, res sql.Result, orderID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", orderID); err != nil {
		return err
	}
	if !exists {
		return models.ErrOrderNotFound
	}
	return models.ErrInvalidTransition
}
