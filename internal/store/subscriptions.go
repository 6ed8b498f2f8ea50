package store

import (
	"context"
	"time"

	"resto-backend/internal/models"
)

// UpsertSubscription registers a device endpoint for a user, refreshing the
// key material and last_active when the endpoint is already known.
func (s *Store) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, endpoint, p256dh, auth, expires_at, last_active)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id, endpoint) DO UPDATE
		SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth,
		    expires_at = EXCLUDED.expires_at, last_active = NOW()
		RETURNING id, last_active`

	return s.db.GetContext(ctx, sub, query,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.ExpiresAt)
}

// DeleteSubscription removes a device registration.
func (s *Store) DeleteSubscription(ctx context.Context, userID int64, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE user_id = $1 AND endpoint = $2", userID, endpoint)
	return err
}

// GetSubscriptionsByUserID retrieves all device registrations for a user.
func (s *Store) GetSubscriptionsByUserID(ctx context.Context, userID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM subscriptions WHERE user_id = $1 ORDER BY id", userID)
	return subs, err
}

// TouchSubscription records a successful delivery.
func (s *Store) TouchSubscription(ctx context.Context, userID int64, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscriptions SET last_active = NOW() WHERE user_id = $1 AND endpoint = $2",
		userID, endpoint)
	return err
}

// DeleteStaleSubscriptions removes registrations idle beyond the retention
// window. Invoked by the external pruning job via the internal endpoint.
func (s *Store) DeleteStaleSubscriptions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE last_active < $1", olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
