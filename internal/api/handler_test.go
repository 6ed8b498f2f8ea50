package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resto-backend/internal/models"
	"resto-backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// emptyOrderStore is an order store with no rows; every lookup and
// conditional update reports the order as missing.
type emptyOrderStore struct{}

func (emptyOrderStore) CreateOrder(context.Context, *models.Order, []models.OrderItem) error {
	return nil
}
func (emptyOrderStore) GetOrderByID(context.Context, int64) (*models.Order, error) {
	return nil, models.ErrOrderNotFound
}
func (emptyOrderStore) GetOrdersByUserID(context.Context, int64) ([]models.Order, error) {
	return nil, nil
}
func (emptyOrderStore) GetOrders(context.Context) ([]models.Order, error) { return nil, nil }
func (emptyOrderStore) GetOrderItemsByOrderID(context.Context, int64) ([]models.OrderItem, error) {
	return nil, nil
}
func (emptyOrderStore) ConfirmPayment(context.Context, int64, string, time.Time) error {
	return models.ErrOrderNotFound
}
func (emptyOrderStore) TransitionOrder(context.Context, int64, []string, string) error {
	return models.ErrOrderNotFound
}
func (emptyOrderStore) MarkPaymentFailed(context.Context, int64) error {
	return models.ErrOrderNotFound
}
func (emptyOrderStore) MarkRefunded(context.Context, int64) error { return models.ErrOrderNotFound }
func (emptyOrderStore) MarkReceiptFailed(context.Context, int64) error {
	return models.ErrOrderNotFound
}
func (emptyOrderStore) SetGatewayRef(context.Context, int64, string) error {
	return models.ErrOrderNotFound
}

// captureOrderStore records the order handed to CreateOrder so tests can
// inspect what the handler actually persisted.
type captureOrderStore struct {
	emptyOrderStore
	created models.Order
}

func (s *captureOrderStore) CreateOrder(_ context.Context, order *models.Order, _ []models.OrderItem) error {
	order.ID = 1
	s.created = *order
	return nil
}

func (s *captureOrderStore) SetGatewayRef(context.Context, int64, string) error { return nil }

type stubCheckout struct{}

func (stubCheckout) CreateCheckout(context.Context, *models.Order, []models.OrderItem) (string, error) {
	return "chk_test_1", nil
}

type fakeLimiter struct {
	count int64
	err   error
}

func (f *fakeLimiter) IncrementCounter(context.Context, string, string, time.Duration) (int64, error) {
	return f.count, f.err
}

// memCarts is an in-memory CartStore for handler tests.
type memCarts struct {
	blobs map[int64][]byte
}

func newMemCarts() *memCarts {
	return &memCarts{blobs: make(map[int64][]byte)}
}

func (m *memCarts) SetCart(_ context.Context, userID int64, cart interface{}, _ time.Duration) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	m.blobs[userID] = data
	return nil
}

func (m *memCarts) GetCart(_ context.Context, userID int64, dest interface{}) (bool, error) {
	data, ok := m.blobs[userID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (m *memCarts) ClearCart(_ context.Context, userID int64) error {
	delete(m.blobs, userID)
	return nil
}

func webhookHandler() *Handler {
	gin.SetMode(gin.TestMode)
	orders := service.NewOrderService(emptyOrderStore{}, nil, nil, nil, nil)
	processor := service.NewPaymentProcessor(testSecret, orders, nil, nil, nil)
	return NewHandler(orders, nil, nil, processor, &fakeLimiter{}, newMemCarts(), Config{})
}

func postWebhook(h *Handler, body, signature string) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST("/api/v1/payments/webhook", h.paymentWebhook)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(body))
	req.Header.Set("X-Gateway-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPaymentWebhookStatusMapping(t *testing.T) {
	h := webhookHandler()

	valid := `{"id":"evt_1","kind":"checkout.completed","data":{"order_id":42,"user_id":7,"reference":"ch_1"}}`
	malformed := `{"id":"evt_1","kind":"checkout.completed","data":{}}`
	unknownKind := `{"id":"evt_1","kind":"payout.created","data":{}}`

	tests := []struct {
		name      string
		body      string
		signature string
		want      int
	}{
		{"bad signature", valid, "deadbeef", http.StatusUnauthorized},
		{"non-hex signature", valid, "zzzz", http.StatusUnauthorized},
		{"malformed payload", malformed, sign(malformed), http.StatusBadRequest},
		{"unknown order", valid, sign(valid), http.StatusBadRequest},
		{"unknown kind acknowledged", unknownKind, sign(unknownKind), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postWebhook(h, tt.body, tt.signature)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPlaceOrderUsesVerifiedIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &captureOrderStore{}
	orders := service.NewOrderService(store, stubCheckout{}, nil, nil, nil)
	h := NewHandler(orders, nil, nil, nil, &fakeLimiter{}, nil, Config{})

	router := gin.New()
	router.POST("/orders", h.identity(), h.placeOrder)

	// The body carries no user_id; a spoofed one is ignored just the same.
	body := `{"items":[{"name":"Margherita","unit_price":5000,"quantity":2}],"address":"Jl. Sudirman 1","user_id":999}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("X-User-Id", "7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(7), store.created.UserID)
	assert.Equal(t, int64(10000), store.created.Amount)
}

func TestIdentityMiddlewareRequiresUserHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, nil, &fakeLimiter{}, nil, Config{})

	router := gin.New()
	router.GET("/whoami", h.identity(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": userID(c), "role": role(c)})
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-User-Id", "7")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"role":"user"`)
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, nil, &fakeLimiter{}, nil, Config{})

	router := gin.New()
	router.GET("/admin", h.identity(), h.requireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-User-Id", "7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-User-Id", "7")
	req.Header.Set("X-User-Role", models.RoleAdmin)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCartRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(nil, nil, nil, nil, &fakeLimiter{}, newMemCarts(), Config{CartTTL: time.Hour})

	router := gin.New()
	router.GET("/cart", h.identity(), h.getCart)
	router.PUT("/cart", h.identity(), h.putCart)
	router.DELETE("/cart", h.identity(), h.clearCart)

	do := func(method, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, "/cart", strings.NewReader(body))
		req.Header.Set("X-User-Id", "7")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cart":null`)

	w = do(http.MethodPut, `{"items":[{"name":"Margherita","quantity":2}]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Margherita"`)

	w = do(http.MethodPut, `{broken`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodDelete, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "")
	assert.Contains(t, w.Body.String(), `"cart":null`)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(limiter RateLimiter) *gin.Engine {
		h := NewHandler(nil, nil, nil, nil, limiter, nil, Config{
			RateLimitMax:    5,
			RateLimitWindow: time.Minute,
		})
		router := gin.New()
		router.POST("/limited", h.identity(), h.rateLimit("test"), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return router
	}

	do := func(router *gin.Engine) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/limited", nil)
		req.Header.Set("X-User-Id", "7")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do(newRouter(&fakeLimiter{count: 5})).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(newRouter(&fakeLimiter{count: 6})).Code)

	// Redis trouble fails open, not closed.
	broken := &fakeLimiter{err: fmt.Errorf("redis unavailable")}
	assert.Equal(t, http.StatusOK, do(newRouter(broken)).Code)
}
