package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"resto-backend/internal/models"
	"resto-backend/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartStore clears a user's stored cart after a confirmed payment.
type CartStore interface {
	ClearCart(ctx context.Context, userID int64) error
}

// PaymentProcessor turns a verified payment gateway event into a consistent,
// once-only set of state changes. The idempotency boundary is the PENDING
// status guard inside ConfirmPayment: a replayed delivery loses the
// conditional update and is acknowledged without side effects.
type PaymentProcessor struct {
	secret    []byte
	orders    *OrderService
	promos    *PromoService
	carts     CartStore
	publisher Publisher
	logger    *zap.Logger
}

// NewPaymentProcessor creates a new payment event processor.
func NewPaymentProcessor(
	secret string,
	orders *OrderService,
	promos *PromoService,
	carts CartStore,
	publisher Publisher,
) *PaymentProcessor {
	return &PaymentProcessor{
		secret:    []byte(secret),
		orders:    orders,
		promos:    promos,
		carts:     carts,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// VerifySignature recomputes the HMAC-SHA256 of the exact bytes received and
// compares it against the signature header in constant time.
func (p *PaymentProcessor) VerifySignature(body []byte, signature string) error {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return models.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, p.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return models.ErrSignatureInvalid
	}
	return nil
}

// HandleEvent verifies, parses and dispatches one webhook delivery. Only
// ErrSignatureInvalid, ErrBadEventPayload and ErrOrderNotFound propagate;
// everything downstream of a committed transition is logged and swallowed so
// the gateway never retries a handled event.
func (p *PaymentProcessor) HandleEvent(ctx context.Context, body []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentProcessor.HandleEvent")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if err := p.VerifySignature(body, signature); err != nil {
		util.WebhookRejectedTotal.WithLabelValues("signature").Inc()
		p.logger.Warn("Webhook signature verification failed")
		return err
	}

	event, err := models.ParseGatewayEvent(body)
	if err != nil {
		util.WebhookRejectedTotal.WithLabelValues("payload").Inc()
		return err
	}

	p.logger.Info("Gateway event received",
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)))

	switch event.Kind {
	case models.GatewayEventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case models.GatewayEventChargeFailed:
		return p.handleChargeFailed(ctx, event)
	case models.GatewayEventChargeRefunded:
		return p.handleChargeRefunded(ctx, event)
	default:
		// Gateways add kinds; acknowledge so they stop retrying.
		p.logger.Info("Ignoring unhandled gateway event kind",
			zap.String("kind", string(event.Kind)))
		return nil
	}
}

func (p *PaymentProcessor) handleCheckoutCompleted(ctx context.Context, event *models.GatewayEvent) error {
	data := event.Completed
	paidAt := event.CreatedAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	err := p.orders.ConfirmPayment(ctx, data.OrderID, data.Reference, paidAt)
	if errors.Is(err, models.ErrInvalidTransition) {
		// Already past PENDING: a duplicate delivery, or the admin cancelled
		// first. Either way the event is handled; no side effects re-apply.
		util.DuplicateEventsTotal.Inc()
		p.logger.Info("Duplicate or raced payment event dropped",
			zap.Int64("order_id", data.OrderID),
			zap.String("event_id", event.ID))
		return nil
	}
	if err != nil {
		return err
	}

	util.PaymentsConfirmedTotal.Inc()

	order, items, err := p.orders.GetOrder(ctx, data.OrderID)
	if err != nil {
		// The transition is committed; the gateway must still see success.
		p.logger.Error("Failed to reload confirmed order", zap.Error(err))
		return nil
	}

	if order.PromoCode != "" {
		grossAmount := order.Amount + order.Discount
		if err := p.promos.Commit(ctx, order.PromoCode, order.UserID, order.ID,
			grossAmount, order.Discount, paidAt); err != nil {
			p.logger.Error("Failed to commit promo redemption",
				zap.Int64("order_id", order.ID),
				zap.String("code", order.PromoCode),
				zap.Error(err))
		}
	}

	if err := p.carts.ClearCart(ctx, order.UserID); err != nil {
		p.logger.Error("Failed to clear cart",
			zap.Int64("user_id", order.UserID),
			zap.Error(err))
	}

	p.publishReceiptRequested(ctx, order)
	p.publishStatusChanged(ctx, order, models.OrderStatusProcessing, summarizeItems(items))

	p.logger.Info("Payment confirmed",
		zap.Int64("order_id", order.ID),
		zap.String("reference", data.Reference))
	return nil
}

func (p *PaymentProcessor) handleChargeFailed(ctx context.Context, event *models.GatewayEvent) error {
	data := event.Failed

	err := p.orders.MarkPaymentFailed(ctx, data.OrderID)
	if errors.Is(err, models.ErrInvalidTransition) {
		// Order already left PENDING; nothing to record.
		p.logger.Info("Charge failed event dropped, order not pending",
			zap.Int64("order_id", data.OrderID))
		return nil
	}
	if err != nil {
		return err
	}

	// The user never received the discount benefit: redemption only commits
	// on success, so there is nothing to reverse and nothing to announce.
	util.PaymentsFailedTotal.Inc()
	p.logger.Info("Payment marked failed",
		zap.Int64("order_id", data.OrderID),
		zap.String("reason", data.Reason))
	return nil
}

func (p *PaymentProcessor) handleChargeRefunded(ctx context.Context, event *models.GatewayEvent) error {
	data := event.Refunded

	err := p.orders.MarkRefunded(ctx, data.OrderID)
	if errors.Is(err, models.ErrInvalidTransition) {
		util.DuplicateEventsTotal.Inc()
		p.logger.Info("Refund event dropped, order not refundable",
			zap.Int64("order_id", data.OrderID))
		return nil
	}
	if err != nil {
		return err
	}

	order, items, err := p.orders.GetOrder(ctx, data.OrderID)
	if err != nil {
		p.logger.Error("Failed to reload refunded order", zap.Error(err))
		return nil
	}

	p.publishStatusChanged(ctx, order, models.OrderStatusRefunded, summarizeItems(items))

	p.logger.Info("Refund processed", zap.Int64("order_id", order.ID))
	return nil
}

func (p *PaymentProcessor) publishReceiptRequested(ctx context.Context, order *models.Order) {
	event := &models.ReceiptRequestedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReceiptRequested,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
	}
	if err := p.publisher.PublishReceiptRequested(ctx, event); err != nil {
		p.logger.Error("Failed to publish ReceiptRequested event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func (p *PaymentProcessor) publishStatusChanged(ctx context.Context, order *models.Order, status, summary string) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		Status:      status,
		ItemSummary: summary,
	}
	if err := p.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		p.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
