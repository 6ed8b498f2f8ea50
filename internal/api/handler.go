package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"resto-backend/internal/models"
	"resto-backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config carries the handler-level knobs.
type Config struct {
	RateLimitMax          int64
	RateLimitWindow       time.Duration
	SubscriptionRetention time.Duration
	CartTTL               time.Duration
}

// CartStore is the Redis-backed cart blob storage. The cart contents are
// opaque here; arithmetic happens client-side and the final truth is the
// order created at checkout.
type CartStore interface {
	SetCart(ctx context.Context, userID int64, cart interface{}, ttl time.Duration) error
	GetCart(ctx context.Context, userID int64, dest interface{}) (bool, error)
	ClearCart(ctx context.Context, userID int64) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	promoService *service.PromoService
	notifier     *service.Notifier
	processor    *service.PaymentProcessor
	limiter      RateLimiter
	carts        CartStore
	cfg          Config
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	promoService *service.PromoService,
	notifier *service.Notifier,
	processor *service.PaymentProcessor,
	limiter RateLimiter,
	carts CartStore,
	cfg Config,
) *Handler {
	return &Handler{
		orderService: orderService,
		promoService: promoService,
		notifier:     notifier,
		processor:    processor,
		limiter:      limiter,
		carts:        carts,
		cfg:          cfg,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// The gateway authenticates with its signature, not a user identity.
	v1.POST("/payments/webhook", h.paymentWebhook)

	auth := v1.Group("", h.identity())
	{
		auth.POST("/orders", h.rateLimit("place"), h.placeOrder)
		auth.GET("/orders/:id", h.getOrder)
		auth.GET("/users/:id/orders", h.listUserOrders)
		auth.POST("/orders/:id/continue-payment", h.continuePayment)
		auth.POST("/promos/validate", h.rateLimit("promo"), h.validatePromo)
		auth.POST("/notifications/subscribe", h.subscribe)
		auth.POST("/notifications/unsubscribe", h.unsubscribe)
		auth.GET("/cart", h.getCart)
		auth.PUT("/cart", h.putCart)
		auth.DELETE("/cart", h.clearCart)
	}

	admin := auth.Group("", h.requireAdmin())
	{
		admin.GET("/orders", h.listOrders)
		admin.PATCH("/orders/:id/status", h.advanceOrder)
		admin.POST("/orders/:id/cancel", h.cancelOrder)
		admin.GET("/promos", h.listPromos)
		admin.POST("/promos", h.createPromo)
		admin.PUT("/promos/:code", h.updatePromo)
		admin.DELETE("/promos/:code", h.deletePromo)
		admin.POST("/promos/:code/toggle", h.togglePromo)
		admin.GET("/promos/:code/ledger", h.promoLedger)
		admin.POST("/notifications/order-status", h.notifyOrderStatus)
		admin.POST("/notifications/test", h.testNotification)
		admin.POST("/notifications/prune", h.pruneSubscriptions)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// paymentWebhook is the signed event intake. Verification runs over the exact
// bytes received, before any JSON parsing. 4xx is reserved for signature and
// payload problems; downstream side-effect failures never surface here.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	signature := c.GetHeader("X-Gateway-Signature")

	err = h.processor.HandleEvent(c.Request.Context(), body, signature)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, models.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	case errors.Is(err, models.ErrBadEventPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown order in event metadata"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process event"})
	}
}

// placeOrder handles checkout: creates a PENDING order and returns the
// gateway checkout reference.
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	req.UserID = userID(c)

	resp, err := h.orderService.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		if models.IsPromoValidationError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to place order", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	order, items, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondOrderError(c, err)
		return
	}

	if order.UserID != userID(c) && role(c) != models.RoleAdmin {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

// listUserOrders handles the per-user order listing.
func (h *Handler) listUserOrders(c *gin.Context) {
	target, ok := paramID(c, "id")
	if !ok {
		return
	}
	if target != userID(c) && role(c) != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	orders, err := h.orderService.ListUserOrders(c.Request.Context(), target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// listOrders handles the admin order listing.
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orderService.ListOrders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// continuePayment re-issues a checkout reference for a still-PENDING order.
func (h *Handler) continuePayment(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ref, err := h.orderService.ContinuePayment(c.Request.Context(), orderID, userID(c))
	if err != nil {
		respondOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout_ref": ref})
}

// advanceOrder handles the admin manual status update.
func (h *Handler) advanceOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err := h.orderService.Advance(c.Request.Context(), orderID, req.Status, role(c))
	if err != nil {
		respondOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": req.Status})
}

// cancelOrder handles the admin cancellation.
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.orderService.Cancel(c.Request.Context(), orderID, role(c)); err != nil {
		respondOrderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": models.OrderStatusCancelled})
}

// validatePromo quotes a discount without consuming usage budget.
func (h *Handler) validatePromo(c *gin.Context) {
	var req struct {
		Code       string `json:"code" binding:"required"`
		ItemCount  int    `json:"item_count" binding:"required,min=1"`
		CartAmount int64  `json:"cart_amount" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	discount, err := h.promoService.Quote(c.Request.Context(), req.Code, userID(c), req.ItemCount, req.CartAmount)
	if err != nil {
		if models.IsPromoValidationError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"valid": false, "reason": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate promo"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "code": req.Code, "discount": discount})
}

// listPromos handles the admin promo listing.
func (h *Handler) listPromos(c *gin.Context) {
	promos, err := h.promoService.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list promos"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"promos": promos})
}

// createPromo handles promo creation.
func (h *Handler) createPromo(c *gin.Context) {
	var promo models.PromoCode
	if err := c.ShouldBindJSON(&promo); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.promoService.Create(c.Request.Context(), &promo); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, promo)
}

// updatePromo handles promo rule updates.
func (h *Handler) updatePromo(c *gin.Context) {
	var promo models.PromoCode
	if err := c.ShouldBindJSON(&promo); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	promo.Code = c.Param("code")

	if err := h.promoService.Update(c.Request.Context(), &promo); err != nil {
		if errors.Is(err, models.ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Promo code not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, promo)
}

// deletePromo handles promo deletion.
func (h *Handler) deletePromo(c *gin.Context) {
	err := h.promoService.Delete(c.Request.Context(), c.Param("code"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	case errors.Is(err, models.ErrCodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Promo code not found"})
	case errors.Is(err, models.ErrCodeReferenced):
		c.JSON(http.StatusConflict, gin.H{"error": "Promo code is referenced by existing orders"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete promo"})
	}
}

// togglePromo flips the active flag.
func (h *Handler) togglePromo(c *gin.Context) {
	active, err := h.promoService.Toggle(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, models.ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Promo code not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to toggle promo"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": c.Param("code"), "active": active})
}

// promoLedger returns the redemption history of a code.
func (h *Handler) promoLedger(c *gin.Context) {
	ledger, err := h.promoService.Ledger(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, models.ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Promo code not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ledger": ledger})
}

// subscribe registers a device push endpoint for the caller.
func (h *Handler) subscribe(c *gin.Context) {
	var req struct {
		Endpoint  string     `json:"endpoint" binding:"required"`
		P256dh    string     `json:"p256dh" binding:"required"`
		Auth      string     `json:"auth" binding:"required"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sub := &models.Subscription{
		UserID:   userID(c),
		Endpoint: req.Endpoint,
		P256dh:   req.P256dh,
		Auth:     req.Auth,
	}
	if req.ExpiresAt != nil {
		sub.ExpiresAt = sql.NullTime{Time: *req.ExpiresAt, Valid: true}
	}

	if err := h.notifier.Subscribe(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to subscribe"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscribed": true})
}

// unsubscribe removes a device push endpoint for the caller.
func (h *Handler) unsubscribe(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.notifier.Unsubscribe(c.Request.Context(), userID(c), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unsubscribe"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unsubscribed": true})
}

// notifyOrderStatus is the internal fan-out trigger.
func (h *Handler) notifyOrderStatus(c *gin.Context) {
	var req struct {
		UserID      int64  `json:"user_id" binding:"required"`
		OrderID     int64  `json:"order_id" binding:"required"`
		Status      string `json:"status" binding:"required"`
		ItemSummary string `json:"item_summary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.notifier.Notify(c.Request.Context(), req.UserID, req.OrderID, req.Status, req.ItemSummary)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to notify"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"delivered":       result.Delivered,
		"failed":          result.Failed,
		"pruned":          result.Pruned,
		"no_subscription": result.NoSubscription,
	})
}

// testNotification sends a generic payload to the caller's own devices.
func (h *Handler) testNotification(c *gin.Context) {
	result, err := h.notifier.Notify(c.Request.Context(), userID(c), 0, "TEST", "test notification")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to notify"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": result.Delivered, "no_subscription": result.NoSubscription})
}

// pruneSubscriptions removes registrations stale beyond the retention window.
func (h *Handler) pruneSubscriptions(c *gin.Context) {
	pruned, err := h.notifier.PruneStale(c.Request.Context(), h.cfg.SubscriptionRetention)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prune subscriptions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pruned": pruned})
}

// getCart returns the caller's stored cart blob, null when none exists.
func (h *Handler) getCart(c *gin.Context) {
	var cart json.RawMessage
	found, err := h.carts.GetCart(c.Request.Context(), userID(c), &cart)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load cart"})
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"cart": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

// putCart replaces the caller's stored cart blob.
func (h *Handler) putCart(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cart body"})
		return
	}

	if err := h.carts.SetCart(c.Request.Context(), userID(c), json.RawMessage(body), h.cfg.CartTTL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store cart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": true})
}

// clearCart removes the caller's stored cart blob.
func (h *Handler) clearCart(c *gin.Context) {
	if err := h.carts.ClearCart(c.Request.Context(), userID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cart"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// respondOrderError maps order state machine errors onto HTTP statuses.
func respondOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Invalid status transition"})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}

// paramID parses a numeric path parameter, responding 400 on failure.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}
