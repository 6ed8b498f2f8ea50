package worker

import (
	"context"
	"log"

	"resto-backend/internal/broker"
	"resto-backend/internal/models"
	"resto-backend/internal/receipt"
	"resto-backend/internal/service"
	"resto-backend/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes OrderStatusChanged events and drives the push
// fan-out. Running it off the broker keeps the notification channel decoupled
// from the transaction that advanced order state.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     *service.Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker.
func NewNotificationWorker(consumer *broker.Consumer, notifier *service.Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		notifier: notifier,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderStatusChanged(w.handleStatusChanged)
	w.eventHandler = eventHandler

	return w
}

func (w *NotificationWorker) handleStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	result, err := w.notifier.Notify(ctx, event.UserID, event.OrderID, event.Status, event.ItemSummary)
	if err != nil {
		// Returning the error leaves the message uncommitted for a retry;
		// only the subscription lookup can fail here.
		return err
	}
	if result.NoSubscription {
		w.logger.Info("No subscriptions for user",
			zap.Int64("user_id", event.UserID),
			zap.Int64("order_id", event.OrderID))
	}
	return nil
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

// ReceiptWorker consumes ReceiptRequested events and calls the receipt
// renderer. A failed delivery flags the order for manual resend and commits
// the message: receipts never hold up or roll back a confirmed payment.
type ReceiptWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       *service.OrderService
	sender       receipt.Sender
	logger       *zap.Logger
}

// NewReceiptWorker creates a new receipt worker.
func NewReceiptWorker(consumer *broker.Consumer, orders *service.OrderService, sender receipt.Sender) *ReceiptWorker {
	w := &ReceiptWorker{
		consumer: consumer,
		orders:   orders,
		sender:   sender,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnReceiptRequested(w.handleReceiptRequested)
	w.eventHandler = eventHandler

	return w
}

func (w *ReceiptWorker) handleReceiptRequested(ctx context.Context, event *models.ReceiptRequestedEvent) error {
	order, items, err := w.orders.GetOrder(ctx, event.OrderID)
	if err != nil {
		w.logger.Error("Failed to load order for receipt",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		return nil
	}

	if err := w.sender.Send(ctx, order, items); err != nil {
		w.logger.Error("Receipt delivery failed, flagging order",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		if err := w.orders.FlagReceiptFailure(ctx, event.OrderID); err != nil {
			w.logger.Error("Failed to flag receipt failure", zap.Error(err))
		}
	}
	return nil
}

// Start starts the worker
func (w *ReceiptWorker) Start(ctx context.Context) error {
	log.Println("Starting receipt worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ReceiptWorker) Stop() error {
	log.Println("Stopping receipt worker...")
	return w.consumer.Close()
}
