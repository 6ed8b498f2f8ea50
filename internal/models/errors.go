package models

import "errors"

// Sentinel errors shared across the service layer. Handlers map these onto
// HTTP statuses; everything else surfaces as an internal error.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrForbidden         = errors.New("action requires admin role")

	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrBadEventPayload  = errors.New("malformed event payload")

	ErrCodeNotFound        = errors.New("promo code not found")
	ErrCodeInactive        = errors.New("promo code is inactive")
	ErrCodeExpired         = errors.New("promo code has expired")
	ErrUsageLimitReached   = errors.New("promo code usage limit reached")
	ErrPerUserLimitReached = errors.New("promo code already used the maximum number of times")
	ErrConditionsNotMet    = errors.New("cart does not meet the promo code conditions")
	ErrCodeReferenced      = errors.New("promo code is referenced by existing orders")

	// ErrSubscriptionGone is returned by a push transport when the endpoint
	// reports the registration as permanently invalid.
	ErrSubscriptionGone = errors.New("push subscription gone")
)

// IsPromoValidationError reports whether err is one of the quote failure
// reasons that should be shown to the end user as-is.
func IsPromoValidationError(err error) bool {
	return errors.Is(err, ErrCodeNotFound) ||
		errors.Is(err, ErrCodeInactive) ||
		errors.Is(err, ErrCodeExpired) ||
		errors.Is(err, ErrUsageLimitReached) ||
		errors.Is(err, ErrPerUserLimitReached) ||
		errors.Is(err, ErrConditionsNotMet)
}
