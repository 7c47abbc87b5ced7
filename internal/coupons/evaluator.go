// Package coupons implements coupon storage and the checkout-time discount
// evaluator.
package coupons

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/utils"
)

// Evaluation failures. Checkout surfaces these before any payment exists.
var (
	ErrCouponInvalid       = errors.New("coupon invalid")
	ErrCouponExhausted     = errors.New("coupon usage limit reached")
	ErrCouponAlreadyUsed   = errors.New("coupon already used")
	ErrCouponMinimumNotMet = errors.New("order amount below coupon minimum")
	ErrCouponNotApplicable = errors.New("coupon not applicable to these courses")
)

// Store is the coupon persistence the evaluator reads.
type Store interface {
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	HasUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error)
}

// Result is a successful evaluation: the coupon and the discount it grants.
type Result struct {
	Coupon         *models.Coupon
	DiscountAmount float64
}

// Evaluator computes the discount for a coupon code against a cart.
// Stateless apart from coupon/usage reads; it never writes.
type Evaluator struct {
	store Store
}

// NewEvaluator creates a coupon evaluator.
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{store: store}
}

// Evaluate validates the code for this user and cart and computes the
// discount. The discount never exceeds the subtotal.
func (e *Evaluator) Evaluate(ctx context.Context, code string, userID uuid.UUID, courseIDs []uuid.UUID, subtotal float64) (*Result, error) {
	c, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c == nil || !c.Active {
		return nil, ErrCouponInvalid
	}
	now := time.Now()
	if now.Before(c.ValidFrom) || (c.ValidUntil != nil && now.After(*c.ValidUntil)) {
		return nil, ErrCouponInvalid
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return nil, ErrCouponExhausted
	}
	used, err := e.store.HasUsage(ctx, c.ID, userID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrCouponAlreadyUsed
	}
	if subtotal < c.MinOrderAmount {
		return nil, ErrCouponMinimumNotMet
	}
	if c.AppliesTo == models.CouponAppliesSpecificCourses && !intersects(c.CourseIDs, courseIDs) {
		return nil, ErrCouponNotApplicable
	}

	var discount float64
	switch c.Type {
	case models.CouponTypePercentage:
		discount = subtotal * c.Value / 100
		if c.MaxDiscount != nil && discount > *c.MaxDiscount {
			discount = *c.MaxDiscount
		}
	case models.CouponTypeFixed:
		discount = c.Value
	default:
		return nil, ErrCouponInvalid
	}
	if discount > subtotal {
		discount = subtotal
	}
	return &Result{Coupon: c, DiscountAmount: utils.Round2(discount)}, nil
}

func intersects(a, b []uuid.UUID) bool {
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
