package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resto-backend/internal/models"
	"resto-backend/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderStore is the persistence surface the order state machine needs. Every
// mutating method is a conditional update keyed on the expected current
// status, so the webhook path and the admin path can race safely.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ConfirmPayment(ctx context.Context, orderID int64, gatewayRef string, paidAt time.Time) error
	TransitionOrder(ctx context.Context, orderID int64, from []string, to string) error
	MarkPaymentFailed(ctx context.Context, orderID int64) error
	MarkRefunded(ctx context.Context, orderID int64) error
	MarkReceiptFailed(ctx context.Context, orderID int64) error
	SetGatewayRef(ctx context.Context, orderID int64, ref string) error
}

// CheckoutClient obtains a checkout reference from the payment gateway.
type CheckoutClient interface {
	CreateCheckout(ctx context.Context, order *models.Order, items []models.OrderItem) (string, error)
}

// PromoReverser reverses a committed redemption on refund.
type PromoReverser interface {
	Reverse(ctx context.Context, code string, userID int64, usedAt time.Time) error
}

// DiscountQuoter quotes a discount without consuming usage budget.
type DiscountQuoter interface {
	Quote(ctx context.Context, code string, userID int64, itemCount int, cartAmount int64) (int64, error)
}

// Publisher is the broker surface for the decoupled side-effect channels.
type Publisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishReceiptRequested(ctx context.Context, event *models.ReceiptRequestedEvent) error
}

// advanceFrom lists the statuses an admin advance may leave, per target.
// Confirmation, cancellation, failure and refund have dedicated operations.
var advanceFrom = map[string][]string{
	models.OrderStatusOutForDelivery: {models.OrderStatusProcessing},
	models.OrderStatusDelivered:      {models.OrderStatusOutForDelivery},
}

// cancelFrom lists the statuses an order can be cancelled from.
var cancelFrom = []string{
	models.OrderStatusPending,
	models.OrderStatusProcessing,
	models.OrderStatusOutForDelivery,
}

// OrderService owns the order lifecycle and its invariants.
type OrderService struct {
	store     OrderStore
	checkout  CheckoutClient
	promos    PromoReverser
	quoter    DiscountQuoter
	publisher Publisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	store OrderStore,
	checkout CheckoutClient,
	promos PromoReverser,
	quoter DiscountQuoter,
	publisher Publisher,
) *OrderService {
	return &OrderService{
		store:     store,
		checkout:  checkout,
		promos:    promos,
		quoter:    quoter,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// PlaceOrderRequest represents a checkout request. UserID is filled from the
// verified identity header, never from the request body.
type PlaceOrderRequest struct {
	UserID    int64              `json:"-"`
	Items     []OrderItemRequest `json:"items" binding:"required,min=1"`
	Address   string             `json:"address" binding:"required"`
	PromoCode string             `json:"promo_code,omitempty"`
}

// OrderItemRequest represents a line item in a checkout request.
type OrderItemRequest struct {
	Name      string `json:"name" binding:"required"`
	UnitPrice int64  `json:"unit_price" binding:"required,min=1"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// PlaceOrderResponse carries the new order and its checkout reference.
type PlaceOrderResponse struct {
	OrderID     int64  `json:"order_id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	Discount    int64  `json:"discount"`
	CheckoutRef string `json:"checkout_ref"`
}

// PlaceOrder creates a PENDING order and obtains a gateway checkout
// reference. The promo discount is quoted, not committed; the ledger only
// moves once the gateway confirms payment.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	var gross int64
	items := make([]models.OrderItem, 0, len(req.Items))
	itemCount := 0
	for _, it := range req.Items {
		gross += it.UnitPrice * int64(it.Quantity)
		itemCount += it.Quantity
		items = append(items, models.OrderItem{
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}

	var discount int64
	if req.PromoCode != "" {
		var err error
		discount, err = s.quoter.Quote(ctx, req.PromoCode, req.UserID, itemCount, gross)
		if err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		UserID:    req.UserID,
		Amount:    gross - discount,
		Discount:  discount,
		PromoCode: req.PromoCode,
		Status:    models.OrderStatusPending,
		Address:   req.Address,
	}

	if err := s.store.CreateOrder(ctx, order, items); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("amount", order.Amount))

	ref, err := s.checkout.CreateCheckout(ctx, order, items)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	if err := s.store.SetGatewayRef(ctx, order.ID, ref); err != nil {
		return nil, fmt.Errorf("failed to store checkout reference: %w", err)
	}

	return &PlaceOrderResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		Amount:      order.Amount,
		Discount:    order.Discount,
		CheckoutRef: ref,
	}, nil
}

// ContinuePayment re-issues a checkout reference for a still-PENDING order so
// the user can retry after a failed or abandoned checkout.
func (s *OrderService) ContinuePayment(ctx context.Context, orderID, userID int64) (string, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ContinuePayment")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.UserID != userID {
		return "", models.ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return "", models.ErrInvalidTransition
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return "", err
	}

	ref, err := s.checkout.CreateCheckout(ctx, order, items)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	if err := s.store.SetGatewayRef(ctx, orderID, ref); err != nil {
		return "", err
	}
	return ref, nil
}

// ConfirmPayment moves a PENDING order to PROCESSING and records the gateway
// reference. A non-PENDING order yields ErrInvalidTransition; that rejection
// is the idempotency boundary for duplicate webhook deliveries.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID int64, gatewayRef string, paidAt time.Time) error {
	return s.store.ConfirmPayment(ctx, orderID, gatewayRef, paidAt)
}

// Advance performs a manual forward transition. Admin only; only the forward
// edges of the state machine are allowed, conditionally on the current
// status. Publishes a status event for the notification channel.
func (s *OrderService) Advance(ctx context.Context, orderID int64, target, actingRole string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Advance")
	defer span.End()

	if actingRole != models.RoleAdmin {
		return models.ErrForbidden
	}
	from, ok := advanceFrom[target]
	if !ok {
		return models.ErrInvalidTransition
	}

	if err := s.store.TransitionOrder(ctx, orderID, from, target); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			// Expected when racing the webhook path or a duplicate click.
			s.logger.Info("Advance lost conditional update",
				zap.Int64("order_id", orderID),
				zap.String("target", target))
		}
		return err
	}

	s.publishStatus(ctx, orderID, target)
	return nil
}

// Cancel cancels an order that has not reached a terminal state. Admin only.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, actingRole string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	if actingRole != models.RoleAdmin {
		return models.ErrForbidden
	}

	if err := s.store.TransitionOrder(ctx, orderID, cancelFrom, models.OrderStatusCancelled); err != nil {
		return err
	}

	s.publishStatus(ctx, orderID, models.OrderStatusCancelled)
	return nil
}

// MarkPaymentFailed records a declined charge on a still-PENDING order.
func (s *OrderService) MarkPaymentFailed(ctx context.Context, orderID int64) error {
	return s.store.MarkPaymentFailed(ctx, orderID)
}

// MarkRefunded moves a paid order to REFUNDED and reverses the promo
// redemption when one was applied. The reversal is matched on the payment
// timestamp, which is the value the commit recorded as used_at.
func (s *OrderService) MarkRefunded(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkRefunded")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.store.MarkRefunded(ctx, orderID); err != nil {
		return err
	}

	util.RefundsTotal.Inc()

	if order.PromoCode != "" && order.PaidAt.Valid {
		if err := s.promos.Reverse(ctx, order.PromoCode, order.UserID, order.PaidAt.Time); err != nil {
			s.logger.Error("Failed to reverse promo redemption",
				zap.Int64("order_id", orderID),
				zap.String("code", order.PromoCode),
				zap.Error(err))
		}
	}

	return nil
}

// FlagReceiptFailure marks the order for manual receipt resend. Receipt
// delivery is best effort; payment truth comes from the gateway, so this
// never touches the payment flag or status.
func (s *OrderService) FlagReceiptFailure(ctx context.Context, orderID int64) error {
	if err := s.store.MarkReceiptFailed(ctx, orderID); err != nil {
		return err
	}
	util.ReceiptFailuresTotal.Inc()
	return nil
}

// GetOrder retrieves an order and its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// ListUserOrders retrieves a user's orders.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// ListOrders retrieves all orders (admin listing).
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.GetOrders(ctx)
}

// publishStatus emits an OrderStatusChanged event, best effort. The broker is
// a side channel: a publish failure never unwinds the committed transition.
func (s *OrderService) publishStatus(ctx context.Context, orderID int64, status string) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to load order for status event", zap.Error(err))
		return
	}
	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to load items for status event", zap.Error(err))
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:     orderID,
		UserID:      order.UserID,
		Status:      status,
		ItemSummary: summarizeItems(items),
	}

	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

// summarizeItems renders a short human-readable line item summary.
func summarizeItems(items []models.OrderItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, it.Name))
	}
	return strings.Join(parts, ", ")
}
