package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponType is percentage or fixed.
const (
	CouponTypePercentage = "percentage"
	CouponTypeFixed      = "fixed"
)

// Coupon applicability.
const (
	CouponAppliesAll             = "all"
	CouponAppliesSpecificCourses = "specific_courses"
)

// Coupon is a discount code applied at checkout.
type Coupon struct {
	ID             uuid.UUID   `json:"id"`
	Code           string      `json:"code"`
	Type           string      `json:"type"`
	Value          float64     `json:"value"`
	MinOrderAmount float64     `json:"min_order_amount"`
	MaxDiscount    *float64    `json:"max_discount,omitempty"`
	UsageLimit     int         `json:"usage_limit"` // 0 = unlimited
	UsedCount      int         `json:"used_count"`
	AppliesTo      string      `json:"applies_to"`
	CourseIDs      []uuid.UUID `json:"course_ids,omitempty"`
	ValidFrom      time.Time   `json:"valid_from"`
	ValidUntil     *time.Time  `json:"valid_until,omitempty"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CouponUsage records one application of a coupon by a user.
// At most one usage exists per (coupon, user).
type CouponUsage struct {
	ID             uuid.UUID `json:"id"`
	CouponID       uuid.UUID `json:"coupon_id"`
	UserID         uuid.UUID `json:"user_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	DiscountAmount float64   `json:"discount_amount"`
	CreatedAt      time.Time `json:"created_at"`
}
