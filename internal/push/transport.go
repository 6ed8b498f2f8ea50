package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"resto-backend/internal/models"
	"resto-backend/internal/service"
)

// HTTPTransport posts notification payloads to subscription endpoints. A 404
// or 410 response marks the registration as permanently gone so the fan-out
// prunes it.
type HTTPTransport struct {
	http *http.Client
	ttl  int
}

// NewHTTPTransport creates a push transport with a per-request timeout; the
// fan-out additionally bounds each delivery with its own context deadline.
func NewHTTPTransport(timeout time.Duration, ttlSeconds int) *HTTPTransport {
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	return &HTTPTransport{
		http: &http.Client{Timeout: timeout},
		ttl:  ttlSeconds,
	}
}

// Send delivers one payload to one subscription endpoint.
func (t *HTTPTransport) Send(ctx context.Context, sub *models.Subscription, payload *service.PushPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TTL", fmt.Sprintf("%d", t.ttl))
	req.Header.Set("Crypto-Key", "p256ecdsa="+sub.P256dh)
	req.Header.Set("Authorization", "key="+sub.Auth)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("push delivery failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return models.ErrSubscriptionGone
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
