package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"resto-backend/internal/models"
)

// Client talks to the payment gateway's checkout API. Webhook verification
// lives in the payment processor; this client only opens checkout sessions.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a new gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type checkoutRequest struct {
	OrderID  int64          `json:"order_id"`
	UserID   int64          `json:"user_id"`
	Amount   int64          `json:"amount"`
	Currency string         `json:"currency"`
	Items    []checkoutItem `json:"items"`
}

type checkoutItem struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

type checkoutResponse struct {
	Reference string `json:"reference"`
}

// CreateCheckout opens a checkout session for the order and returns the
// gateway reference the user completes payment against.
func (c *Client) CreateCheckout(ctx context.Context, order *models.Order, items []models.OrderItem) (string, error) {
	reqBody := checkoutRequest{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Amount:   order.Amount,
		Currency: "EUR",
		Items:    make([]checkoutItem, 0, len(items)),
	}
	for _, it := range items {
		reqBody.Items = append(reqBody.Items, checkoutItem{
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("checkout request returned status %d", resp.StatusCode)
	}

	var body checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode checkout response: %w", err)
	}
	if body.Reference == "" {
		return "", fmt.Errorf("checkout response missing reference")
	}
	return body.Reference, nil
}
