package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/backend/internal/models"
)

type fakeStore struct {
	coupon *models.Coupon
	used   bool
}

func (f *fakeStore) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	if f.coupon != nil && f.coupon.Code == code {
		return f.coupon, nil
	}
	return nil, nil
}

func (f *fakeStore) HasUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error) {
	return f.used, nil
}

func activeCoupon(typ string, value float64) *models.Coupon {
	return &models.Coupon{
		ID:        uuid.New(),
		Code:      "SAVE10",
		Type:      typ,
		Value:     value,
		AppliesTo: models.CouponAppliesAll,
		ValidFrom: time.Now().Add(-time.Hour),
		Active:    true,
	}
}

func TestEvaluatePercentage(t *testing.T) {
	store := &fakeStore{coupon: activeCoupon(models.CouponTypePercentage, 10)}
	ev := NewEvaluator(store)

	res, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.DiscountAmount)
}

func TestEvaluatePercentageCapped(t *testing.T) {
	c := activeCoupon(models.CouponTypePercentage, 50)
	cap := 120.0
	c.MaxDiscount = &cap
	ev := NewEvaluator(&fakeStore{coupon: c})

	res, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, 120.0, res.DiscountAmount)
}

func TestEvaluateFixedNeverExceedsSubtotal(t *testing.T) {
	ev := NewEvaluator(&fakeStore{coupon: activeCoupon(models.CouponTypeFixed, 500)})

	res, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 300)
	require.NoError(t, err)
	assert.Equal(t, 300.0, res.DiscountAmount)
}

func TestEvaluateUnknownCode(t *testing.T) {
	ev := NewEvaluator(&fakeStore{})

	_, err := ev.Evaluate(context.Background(), "NOPE", uuid.New(), nil, 1000)
	assert.ErrorIs(t, err, ErrCouponInvalid)
}

func TestEvaluateInactive(t *testing.T) {
	c := activeCoupon(models.CouponTypePercentage, 10)
	c.Active = false
	ev := NewEvaluator(&fakeStore{coupon: c})

	_, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 1000)
	assert.ErrorIs(t, err, ErrCouponInvalid)
}

func TestEvaluateExpired(t *testing.T) {
	c := activeCoupon(models.CouponTypePercentage, 10)
	until := time.Now().Add(-time.Minute)
	c.ValidUntil = &until
	ev := NewEvaluator(&fakeStore{coupon: c})

	_, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 1000)
	assert.ErrorIs(t, err, ErrCouponInvalid)
}

func TestEvaluateExhausted(t *testing.T) {
	c := activeCoupon(models.CouponTypePercentage, 10)
	c.UsageLimit = 5
	c.UsedCount = 5
	ev := NewEvaluator(&fakeStore{coupon: c})

	_, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 1000)
	assert.ErrorIs(t, err, ErrCouponExhausted)
}

func TestEvaluateAlreadyUsed(t *testing.T) {
	ev := NewEvaluator(&fakeStore{coupon: activeCoupon(models.CouponTypePercentage, 10), used: true})

	_, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 1000)
	assert.ErrorIs(t, err, ErrCouponAlreadyUsed)
}

func TestEvaluateMinimumNotMet(t *testing.T) {
	c := activeCoupon(models.CouponTypePercentage, 10)
	c.MinOrderAmount = 2000
	ev := NewEvaluator(&fakeStore{coupon: c})

	_, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), nil, 1000)
	assert.ErrorIs(t, err, ErrCouponMinimumNotMet)
}

func TestEvaluateSpecificCourses(t *testing.T) {
	eligible := uuid.New()
	c := activeCoupon(models.CouponTypePercentage, 10)
	c.AppliesTo = models.CouponAppliesSpecificCourses
	c.CourseIDs = []uuid.UUID{eligible}
	ev := NewEvaluator(&fakeStore{coupon: c})

	_, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), []uuid.UUID{uuid.New()}, 1000)
	assert.ErrorIs(t, err, ErrCouponNotApplicable)

	res, err := ev.Evaluate(context.Background(), "SAVE10", uuid.New(), []uuid.UUID{eligible, uuid.New()}, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.DiscountAmount)
}
