package service

import (
	"context"
	"fmt"
	"time"

	"resto-backend/internal/models"
	"resto-backend/internal/util"

	"go.uber.org/zap"
)

// PromoStore is the persistence surface the promo ledger needs. The sqlx
// store implements it; tests use an in-memory fake.
type PromoStore interface {
	GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetPromos(ctx context.Context) ([]models.PromoCode, error)
	CreatePromo(ctx context.Context, promo *models.PromoCode) error
	UpdatePromo(ctx context.Context, promo *models.PromoCode) error
	TogglePromo(ctx context.Context, code string) (bool, error)
	DeletePromo(ctx context.Context, code string) error
	CountRedemptionsByUser(ctx context.Context, code string, userID int64) (int, error)
	GetRedemptions(ctx context.Context, code string) ([]models.Redemption, error)
	CommitRedemption(ctx context.Context, r *models.Redemption) error
	ReverseRedemption(ctx context.Context, code string, userID int64, usedAt time.Time) (bool, error)
}

// PromoService owns promo code validation and the redemption ledger.
// Quote never mutates; Commit is only reached from the payment event
// processor after a confirmed charge, so an abandoned cart never burns a
// usage slot.
type PromoService struct {
	store  PromoStore
	logger *zap.Logger
}

// NewPromoService creates a new promo service
func NewPromoService(store PromoStore) *PromoService {
	return &PromoService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Quote validates a code against the cart and returns the discount it would
// grant, without consuming anything.
func (ps *PromoService) Quote(ctx context.Context, code string, userID int64, itemCount int, cartAmount int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "PromoService.Quote")
	defer span.End()

	promo, err := ps.store.GetPromoByCode(ctx, code)
	if err != nil {
		ps.countRejection(err)
		return 0, err
	}

	if !promo.Active {
		ps.countRejection(models.ErrCodeInactive)
		return 0, models.ErrCodeInactive
	}
	if time.Now().After(promo.ExpiresAt) {
		ps.countRejection(models.ErrCodeExpired)
		return 0, models.ErrCodeExpired
	}
	if promo.UsageLimit > 0 && promo.UsageCount >= promo.UsageLimit {
		ps.countRejection(models.ErrUsageLimitReached)
		return 0, models.ErrUsageLimitReached
	}

	if promo.PerUserLimit > 0 {
		used, err := ps.store.CountRedemptionsByUser(ctx, code, userID)
		if err != nil {
			return 0, fmt.Errorf("failed to count redemptions: %w", err)
		}
		if used >= promo.PerUserLimit {
			ps.countRejection(models.ErrPerUserLimitReached)
			return 0, models.ErrPerUserLimitReached
		}
	}

	if itemCount < promo.MinItems || cartAmount < promo.MinAmount {
		ps.countRejection(models.ErrConditionsNotMet)
		return 0, models.ErrConditionsNotMet
	}

	return computeDiscount(promo, cartAmount), nil
}

// computeDiscount applies the discount rule to a cart amount. Callers have
// already checked the eligibility conditions.
func computeDiscount(promo *models.PromoCode, cartAmount int64) int64 {
	var discount int64

	switch promo.Kind {
	case models.DiscountFixed:
		discount = promo.Value
	case models.DiscountPercentage, models.DiscountConditional:
		// Conditional codes reuse the percentage rule; they differ only in
		// that their conditions block is mandatory at creation time.
		discount = cartAmount * promo.Value / 100
		if promo.MaxDiscount > 0 && discount > promo.MaxDiscount {
			discount = promo.MaxDiscount
		}
	}

	if discount > cartAmount {
		discount = cartAmount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// Commit appends a ledger row for a paid order and bumps the usage counter.
// Replaying the same order is a no-op at the storage layer.
func (ps *PromoService) Commit(ctx context.Context, code string, userID, orderID int64, orderAmount, discount int64, usedAt time.Time) error {
	ctx, span := util.StartSpan(ctx, "PromoService.Commit")
	defer span.End()

	err := ps.store.CommitRedemption(ctx, &models.Redemption{
		Code:        code,
		UserID:      userID,
		OrderID:     orderID,
		OrderAmount: orderAmount,
		Discount:    discount,
		UsedAt:      usedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to commit redemption for %s: %w", code, err)
	}

	util.PromoCommitsTotal.Inc()
	ps.logger.Info("Promo redemption committed",
		zap.String("code", code),
		zap.Int64("user_id", userID),
		zap.Int64("order_id", orderID),
		zap.Int64("discount", discount))
	return nil
}

// Reverse removes the ledger row matching (user, usedAt) and decrements the
// counter. A missing row is logged and swallowed: a refund is never blocked
// by ledger bookkeeping.
func (ps *PromoService) Reverse(ctx context.Context, code string, userID int64, usedAt time.Time) error {
	ctx, span := util.StartSpan(ctx, "PromoService.Reverse")
	defer span.End()

	found, err := ps.store.ReverseRedemption(ctx, code, userID, usedAt)
	if err != nil {
		return fmt.Errorf("failed to reverse redemption for %s: %w", code, err)
	}
	if !found {
		ps.logger.Warn("No matching ledger row to reverse",
			zap.String("code", code),
			zap.Int64("user_id", userID),
			zap.Time("used_at", usedAt))
		return nil
	}

	util.PromoReversalsTotal.Inc()
	ps.logger.Info("Promo redemption reversed",
		zap.String("code", code),
		zap.Int64("user_id", userID))
	return nil
}

// Create validates and persists a new promo code.
func (ps *PromoService) Create(ctx context.Context, promo *models.PromoCode) error {
	if err := validatePromo(promo); err != nil {
		return err
	}
	return ps.store.CreatePromo(ctx, promo)
}

// Update replaces the rules of an existing code.
func (ps *PromoService) Update(ctx context.Context, promo *models.PromoCode) error {
	if err := validatePromo(promo); err != nil {
		return err
	}
	return ps.store.UpdatePromo(ctx, promo)
}

// Toggle flips the active flag and returns the new value.
func (ps *PromoService) Toggle(ctx context.Context, code string) (bool, error) {
	return ps.store.TogglePromo(ctx, code)
}

// Delete removes a code unless a historical order references it.
func (ps *PromoService) Delete(ctx context.Context, code string) error {
	return ps.store.DeletePromo(ctx, code)
}

// List returns all promo codes.
func (ps *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return ps.store.GetPromos(ctx)
}

// Ledger returns the redemption history of a code.
func (ps *PromoService) Ledger(ctx context.Context, code string) ([]models.Redemption, error) {
	if _, err := ps.store.GetPromoByCode(ctx, code); err != nil {
		return nil, err
	}
	return ps.store.GetRedemptions(ctx, code)
}

func validatePromo(promo *models.PromoCode) error {
	if promo.Code == "" {
		return fmt.Errorf("promo code must not be empty")
	}
	if promo.Value <= 0 {
		return fmt.Errorf("discount value must be positive")
	}
	switch promo.Kind {
	case models.DiscountFixed:
	case models.DiscountPercentage:
		if promo.Value > 100 {
			return fmt.Errorf("percentage discount cannot exceed 100")
		}
	case models.DiscountConditional:
		if promo.Value > 100 {
			return fmt.Errorf("percentage discount cannot exceed 100")
		}
		if promo.MinItems <= 0 && promo.MinAmount <= 0 {
			return fmt.Errorf("conditional promo requires min_items or min_amount")
		}
	default:
		return fmt.Errorf("unknown discount kind %q", promo.Kind)
	}
	return nil
}

func (ps *PromoService) countRejection(err error) {
	util.PromoQuoteRejectedTotal.WithLabelValues(rejectionReason(err)).Inc()
}

func rejectionReason(err error) string {
	switch {
	case err == models.ErrCodeNotFound:
		return "not_found"
	case err == models.ErrCodeInactive:
		return "inactive"
	case err == models.ErrCodeExpired:
		return "expired"
	case err == models.ErrUsageLimitReached:
		return "usage_limit"
	case err == models.ErrPerUserLimitReached:
		return "per_user_limit"
	case err == models.ErrConditionsNotMet:
		return "conditions"
	default:
		return "error"
	}
}
