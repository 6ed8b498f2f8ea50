package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"resto-backend/internal/models"
)

// Sender asks the external receipt renderer to build and email a receipt.
// Rendering and mail transport belong to that collaborator; this side only
// needs success or failure.
type Sender interface {
	Send(ctx context.Context, order *models.Order, items []models.OrderItem) error
}

// HTTPSender is the production Sender against the renderer's HTTP API.
type HTTPSender struct {
	url  string
	http *http.Client
}

// NewHTTPSender creates a sender for the given renderer URL.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url:  url,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type receiptRequest struct {
	OrderID  int64         `json:"order_id"`
	UserID   int64         `json:"user_id"`
	Amount   int64         `json:"amount"`
	Discount int64         `json:"discount"`
	PaidAt   string        `json:"paid_at,omitempty"`
	Items    []receiptLine `json:"items"`
}

type receiptLine struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// Send posts the order to the renderer.
func (s *HTTPSender) Send(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	reqBody := receiptRequest{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Amount:   order.Amount,
		Discount: order.Discount,
		Items:    make([]receiptLine, 0, len(items)),
	}
	if order.PaidAt.Valid {
		reqBody.PaidAt = order.PaidAt.Time.Format(time.RFC3339)
	}
	for _, it := range items {
		reqBody.Items = append(reqBody.Items, receiptLine{
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("receipt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("receipt renderer returned status %d", resp.StatusCode)
	}
	return nil
}
