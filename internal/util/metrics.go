package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	PaymentsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_confirmed_total",
		Help: "Total number of payments confirmed from gateway events",
	})

	PaymentsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Total number of failed charges reported by the gateway",
	})

	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refunds_total",
		Help: "Total number of refunds processed",
	})

	DuplicateEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_duplicate_events_total",
		Help: "Total number of webhook deliveries recognized as duplicates",
	})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Total number of rejected webhook deliveries",
	}, []string{"reason"})

	PromoCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_commits_total",
		Help: "Total number of promo redemptions committed",
	})

	PromoReversalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_reversals_total",
		Help: "Total number of promo redemptions reversed on refund",
	})

	PromoQuoteRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promo_quote_rejected_total",
		Help: "Total number of rejected promo quote requests",
	}, []string{"reason"})

	NotificationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of push notifications delivered",
	})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of failed push deliveries",
	}, []string{"reason"})

	SubscriptionsPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_pruned_total",
		Help: "Total number of subscriptions deleted after a gone response",
	})

	ReceiptFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "receipt_failures_total",
		Help: "Total number of orders flagged for manual receipt resend",
	})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of webhook event processing",
		Buckets: prometheus.DefBuckets,
	})

	NotificationFanoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_fanout_latency_seconds",
		Help:    "Latency of a full notification fan-out",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
