package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// GatewayEventKind is the closed set of payment gateway event kinds this
// service understands. Dispatch switches over it; anything else is
// acknowledged and ignored so the gateway stops retrying.
type GatewayEventKind string

const (
	GatewayEventCheckoutCompleted GatewayEventKind = "checkout.completed"
	GatewayEventChargeFailed      GatewayEventKind = "charge.failed"
	GatewayEventChargeRefunded    GatewayEventKind = "charge.refunded"
)

// GatewayEvent is the verified envelope of a webhook delivery.
type GatewayEvent struct {
	ID        string           `json:"id"`
	Kind      GatewayEventKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`

	Completed *CheckoutCompletedData `json:"-"`
	Failed    *ChargeFailedData      `json:"-"`
	Refunded  *ChargeRefundedData    `json:"-"`
}

// CheckoutCompletedData carries the metadata of a successful charge.
type CheckoutCompletedData struct {
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	Reference string `json:"reference"`
}

// ChargeFailedData carries the metadata of a declined charge.
type ChargeFailedData struct {
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// ChargeRefundedData carries the metadata of a completed refund.
type ChargeRefundedData struct {
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	Reference string `json:"reference"`
}

type gatewayEnvelope struct {
	ID        string           `json:"id"`
	Kind      GatewayEventKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	Data      json.RawMessage  `json:"data"`
}

// ParseGatewayEvent decodes a raw webhook body into a typed event. The kind
// selects which payload gets populated; a known kind with an undecodable or
// incomplete payload is an error, an unknown kind is not.
func ParseGatewayEvent(body []byte) (*GatewayEvent, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEventPayload, err)
	}
	if env.ID == "" || env.Kind == "" {
		return nil, fmt.Errorf("%w: missing id or kind", ErrBadEventPayload)
	}

	ev := &GatewayEvent{ID: env.ID, Kind: env.Kind, CreatedAt: env.CreatedAt}

	switch env.Kind {
	case GatewayEventCheckoutCompleted:
		var data CheckoutCompletedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEventPayload, err)
		}
		if data.OrderID == 0 || data.UserID == 0 {
			return nil, fmt.Errorf("%w: missing order or user id", ErrBadEventPayload)
		}
		ev.Completed = &data

	case GatewayEventChargeFailed:
		var data ChargeFailedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEventPayload, err)
		}
		if data.OrderID == 0 {
			return nil, fmt.Errorf("%w: missing order id", ErrBadEventPayload)
		}
		ev.Failed = &data

	case GatewayEventChargeRefunded:
		var data ChargeRefundedData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEventPayload, err)
		}
		if data.OrderID == 0 {
			return nil, fmt.Errorf("%w: missing order id", ErrBadEventPayload)
		}
		ev.Refunded = &data
	}

	return ev, nil
}
