package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"resto-backend/internal/models"
)

// CreatePromo inserts a new promo code.
func (s *Store) CreatePromo(ctx context.Context, promo *models.PromoCode) error {
	query := `
		INSERT INTO promo_codes
			(code, kind, value, max_discount, usage_limit, per_user_limit,
			 min_items, min_amount, expires_at, active, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, promo, query,
		promo.Code, promo.Kind, promo.Value, promo.MaxDiscount, promo.UsageLimit,
		promo.PerUserLimit, promo.MinItems, promo.MinAmount, promo.ExpiresAt, promo.Active)
}

// UpdatePromo updates the rules of an existing promo code. The usage counter
// and ledger are owned by Commit/Reverse and are not touched here.
func (s *Store) UpdatePromo(ctx context.Context, promo *models.PromoCode) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE promo_codes
		SET kind = $1, value = $2, max_discount = $3, usage_limit = $4,
		    per_user_limit = $5, min_items = $6, min_amount = $7,
		    expires_at = $8, active = $9, updated_at = NOW()
		WHERE code = $10`,
		promo.Kind, promo.Value, promo.MaxDiscount, promo.UsageLimit,
		promo.PerUserLimit, promo.MinItems, promo.MinAmount,
		promo.ExpiresAt, promo.Active, promo.Code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrCodeNotFound
	}
	return nil
}

// TogglePromo flips the active flag and returns the new value.
func (s *Store) TogglePromo(ctx context.Context, code string) (bool, error) {
	var active bool
	err := s.db.GetContext(ctx, &active, `
		UPDATE promo_codes SET active = NOT active, updated_at = NOW()
		WHERE code = $1 RETURNING active`, code)
	if err == sql.ErrNoRows {
		return false, models.ErrCodeNotFound
	}
	return active, err
}

// DeletePromo removes a promo code, refusing while any historical order still
// references it by code string.
func (s *Store) DeletePromo(ctx context.Context, code string) error {
	// The reference guard lives inside the DELETE itself; an order placed
	// concurrently can never slip between a separate check and the delete.
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM promo_codes
		WHERE code = $1
		  AND NOT EXISTS (SELECT 1 FROM orders WHERE promo_code = $1)`, code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM promo_codes WHERE code = $1)", code); err != nil {
		return err
	}
	if exists {
		return models.ErrCodeReferenced
	}
	return models.ErrCodeNotFound
}

// GetPromoByCode retrieves a promo code.
func (s *Store) GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := s.db.GetContext(ctx, &promo, "SELECT * FROM promo_codes WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, models.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &promo, nil
}

// GetPromos retrieves all promo codes.
func (s *Store) GetPromos(ctx context.Context) ([]models.PromoCode, error) {
	var promos []models.PromoCode
	err := s.db.SelectContext(ctx, &promos, "SELECT * FROM promo_codes ORDER BY created_at DESC")
	return promos, err
}

// CountRedemptionsByUser returns how many ledger rows a user has for a code.
func (s *Store) CountRedemptionsByUser(ctx context.Context, code string, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM promo_redemptions WHERE code = $1 AND user_id = $2", code, userID)
	return count, err
}

// GetRedemptions returns the full ledger for a code, oldest first.
func (s *Store) GetRedemptions(ctx context.Context, code string) ([]models.Redemption, error) {
	var rows []models.Redemption
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM promo_redemptions WHERE code = $1 ORDER BY used_at", code)
	return rows, err
}

// CommitRedemption appends a ledger row and increments the usage counter in
// one transaction. The unique (code, user_id, order_id) index makes a replayed
// commit for the same order a no-op; the counter guard enforces the global
// usage limit under concurrent commits.
func (s *Store) CommitRedemption(ctx context.Context, r *models.Redemption) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO promo_redemptions (code, user_id, order_id, order_amount, discount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code, user_id, order_id) DO NOTHING`,
		r.Code, r.UserID, r.OrderID, r.OrderAmount, r.Discount, r.UsedAt)
	if err != nil {
		return fmt.Errorf("failed to append redemption: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		// Already committed for this order.
		return nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE promo_codes SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE code = $1 AND (usage_limit = 0 OR usage_count < usage_limit)`,
		r.Code)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrUsageLimitReached
	}

	return tx.Commit()
}

// ReverseRedemption removes exactly one ledger row matching (code, user,
// usedAt) and decrements the counter, in one transaction. Returns false when
// no row matched.
func (s *Store) ReverseRedemption(ctx context.Context, code string, userID int64, usedAt time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM promo_redemptions
		WHERE id = (
			SELECT id FROM promo_redemptions
			WHERE code = $1 AND user_id = $2 AND used_at = $3
			ORDER BY id LIMIT 1
		)`,
		code, userID, usedAt)
	if err != nil {
		return false, fmt.Errorf("failed to delete redemption: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE promo_codes SET usage_count = usage_count - 1, updated_at = NOW()
		WHERE code = $1 AND usage_count > 0`, code); err != nil {
		return false, fmt.Errorf("failed to decrement usage: %w", err)
	}

	return true, tx.Commit()
}
