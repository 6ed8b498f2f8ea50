package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"resto-backend/internal/models"
	"resto-backend/internal/util"

	"go.uber.org/zap"
)

// SubscriptionStore is the persistence surface the fan-out needs.
type SubscriptionStore interface {
	GetSubscriptionsByUserID(ctx context.Context, userID int64) ([]models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, userID int64, endpoint string) error
	TouchSubscription(ctx context.Context, userID int64, endpoint string) error
	DeleteStaleSubscriptions(ctx context.Context, olderThan time.Time) (int64, error)
}

// PushTransport delivers one payload to one subscription. It returns
// models.ErrSubscriptionGone when the endpoint reports the registration as
// permanently invalid; any other error is treated as transient.
type PushTransport interface {
	Send(ctx context.Context, sub *models.Subscription, payload *PushPayload) error
}

// PushAction is a button on the notification.
type PushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// PushPayload is the notification content delivered to every device.
type PushPayload struct {
	Title   string       `json:"title"`
	Body    string       `json:"body"`
	Vibrate []int        `json:"vibrate,omitempty"`
	Actions []PushAction `json:"actions,omitempty"`
	OrderID int64        `json:"order_id"`
	Status  string       `json:"status"`
}

// FanoutResult summarizes one notification burst.
type FanoutResult struct {
	Delivered      int
	Failed         int
	Pruned         int
	NoSubscription bool
}

type payloadTemplate struct {
	title   string
	body    string
	vibrate []int
	actions []PushAction
}

var statusPayloads = map[string]payloadTemplate{
	models.OrderStatusProcessing: {
		title:   "Order confirmed",
		body:    "We received your payment and the kitchen got to work on %s.",
		vibrate: []int{200, 100, 200},
		actions: []PushAction{{Action: "view", Title: "View order"}},
	},
	models.OrderStatusOutForDelivery: {
		title:   "Out for delivery",
		body:    "Your order (%s) is on its way.",
		vibrate: []int{200, 100, 200},
		actions: []PushAction{{Action: "view", Title: "Track order"}},
	},
	models.OrderStatusDelivered: {
		title: "Order delivered",
		body:  "Enjoy your meal! Your order (%s) has been delivered.",
	},
	models.OrderStatusCancelled: {
		title: "Order cancelled",
		body:  "Your order (%s) was cancelled.",
	},
	models.OrderStatusRefunded: {
		title: "Refund issued",
		body:  "Your payment for %s has been refunded.",
	},
}

var genericPayload = payloadTemplate{
	title: "Order update",
	body:  "There is an update on your order (%s).",
}

// Notifier fans a status change out to every registered device of a user.
type Notifier struct {
	subs          SubscriptionStore
	transport     PushTransport
	maxInFlight   int
	deviceTimeout time.Duration
	logger        *zap.Logger
}

// NewNotifier creates a new notifier with bounded delivery parallelism.
func NewNotifier(subs SubscriptionStore, transport PushTransport, maxInFlight int, deviceTimeout time.Duration) *Notifier {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	if deviceTimeout <= 0 {
		deviceTimeout = 10 * time.Second
	}
	return &Notifier{
		subs:          subs,
		transport:     transport,
		maxInFlight:   maxInFlight,
		deviceTimeout: deviceTimeout,
		logger:        util.GetLogger(),
	}
}

// Subscribe registers a device endpoint for a user.
func (n *Notifier) Subscribe(ctx context.Context, sub *models.Subscription) error {
	return n.subs.UpsertSubscription(ctx, sub)
}

// Unsubscribe removes a device registration.
func (n *Notifier) Unsubscribe(ctx context.Context, userID int64, endpoint string) error {
	return n.subs.DeleteSubscription(ctx, userID, endpoint)
}

// PruneStale removes registrations idle beyond the retention window. Invoked
// by the external pruning job through the internal endpoint.
func (n *Notifier) PruneStale(ctx context.Context, retention time.Duration) (int64, error) {
	return n.subs.DeleteStaleSubscriptions(ctx, time.Now().Add(-retention))
}

// Notify delivers a status-change payload to every subscription of the user.
// Deliveries run concurrently under a semaphore and fail independently: a
// gone endpoint is pruned, a transient failure is logged and left for the
// next burst. The call only errors when the subscription lookup fails.
func (n *Notifier) Notify(ctx context.Context, userID, orderID int64, status, itemSummary string) (*FanoutResult, error) {
	ctx, span := util.StartSpan(ctx, "Notifier.Notify")
	defer span.End()

	start := time.Now()
	defer func() {
		util.NotificationFanoutLatency.Observe(time.Since(start).Seconds())
	}()

	subs, err := n.subs.GetSubscriptionsByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return &FanoutResult{NoSubscription: true}, nil
	}

	payload := buildPayload(status, orderID, itemSummary)

	var (
		mu     sync.Mutex
		result FanoutResult
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, n.maxInFlight)

	for i := range subs {
		sub := subs[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			sendCtx, cancel := context.WithTimeout(ctx, n.deviceTimeout)
			defer cancel()

			err := n.transport.Send(sendCtx, &sub, payload)
			switch {
			case err == nil:
				if err := n.subs.TouchSubscription(ctx, sub.UserID, sub.Endpoint); err != nil {
					n.logger.Warn("Failed to touch subscription", zap.Error(err))
				}
				util.NotificationsSentTotal.Inc()
				mu.Lock()
				result.Delivered++
				mu.Unlock()

			case errors.Is(err, models.ErrSubscriptionGone):
				if err := n.subs.DeleteSubscription(ctx, sub.UserID, sub.Endpoint); err != nil {
					n.logger.Error("Failed to prune gone subscription",
						zap.String("endpoint", sub.Endpoint),
						zap.Error(err))
				}
				util.SubscriptionsPrunedTotal.Inc()
				util.NotificationsFailedTotal.WithLabelValues("gone").Inc()
				mu.Lock()
				result.Pruned++
				mu.Unlock()

			default:
				n.logger.Warn("Push delivery failed",
					zap.Int64("user_id", sub.UserID),
					zap.String("endpoint", sub.Endpoint),
					zap.Error(err))
				util.NotificationsFailedTotal.WithLabelValues("transient").Inc()
				mu.Lock()
				result.Failed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	n.logger.Info("Notification fan-out complete",
		zap.Int64("user_id", userID),
		zap.Int64("order_id", orderID),
		zap.String("status", status),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
		zap.Int("pruned", result.Pruned))

	return &result, nil
}

func buildPayload(status string, orderID int64, itemSummary string) *PushPayload {
	tmpl, ok := statusPayloads[status]
	if !ok {
		tmpl = genericPayload
	}
	if itemSummary == "" {
		itemSummary = "your order"
	}
	return &PushPayload{
		Title:   tmpl.title,
		Body:    sprintfBody(tmpl.body, itemSummary),
		Vibrate: tmpl.vibrate,
		Actions: tmpl.actions,
		OrderID: orderID,
		Status:  status,
	}
}

func sprintfBody(format, summary string) string {
	// All templates carry exactly one %s slot.
	return strings.Replace(format, "%s", summary, 1)
}
