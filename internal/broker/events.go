package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"resto-backend/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderStatusChanged publishes an OrderStatusChanged event.
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishReceiptRequested publishes a ReceiptRequested event.
func (ep *EventPublisher) PublishReceiptRequested(ctx context.Context, event *models.ReceiptRequestedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes consumed messages to registered handlers.
type EventHandler struct {
	onStatusChanged    func(context.Context, *models.OrderStatusChangedEvent) error
	onReceiptRequested func(context.Context, *models.ReceiptRequestedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderStatusChanged registers a handler for OrderStatusChanged events.
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onStatusChanged = handler
}

// OnReceiptRequested registers a handler for ReceiptRequested events.
func (eh *EventHandler) OnReceiptRequested(handler func(context.Context, *models.ReceiptRequestedEvent) error) {
	eh.onReceiptRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderStatusChanged:
		if eh.onStatusChanged != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderStatusChanged event: %w", err)
			}
			return eh.onStatusChanged(ctx, &event)
		}

	case models.EventTypeReceiptRequested:
		if eh.onReceiptRequested != nil {
			var event models.ReceiptRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReceiptRequested event: %w", err)
			}
			return eh.onReceiptRequested(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
