package coupons

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/backend/internal/models"
)

const uniqueViolation = "23505"

// Repository handles coupon and coupon-usage persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a coupons repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const couponColumns = `id, code, type, value, min_order_amount, max_discount, usage_limit, used_count,
	applies_to, course_ids, valid_from, valid_until, active, created_at, updated_at`

func scanCoupon(row pgx.Row) (*models.Coupon, error) {
	var c models.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.MinOrderAmount, &c.MaxDiscount,
		&c.UsageLimit, &c.UsedCount, &c.AppliesTo, &c.CourseIDs, &c.ValidFrom, &c.ValidUntil,
		&c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByCode returns a coupon by code, or nil when absent.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	c, err := scanCoupon(r.pool.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// HasUsage reports whether the user already has a usage row for the coupon.
func (r *Repository) HasUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2)`,
		couponID, userID).Scan(&exists)
	return exists, err
}

// CreateUsageTx inserts a coupon usage and bumps used_count inside the given
// transaction. A duplicate (coupon, user) pair maps to ErrCouponAlreadyUsed:
// the unique constraint is what closes the concurrent-checkout race.
func (r *Repository) CreateUsageTx(ctx context.Context, tx pgx.Tx, u *models.CouponUsage) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO coupon_usages (coupon_id, user_id, payment_id, discount_amount)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		u.CouponID, u.UserID, u.PaymentID, u.DiscountAmount).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrCouponAlreadyUsed
		}
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE coupons SET used_count = used_count + 1, updated_at = NOW() WHERE id = $1`, u.CouponID)
	return err
}

// DeleteUsageByPaymentTx removes the usage tied to a payment and restores
// used_count, inside the given transaction. Used only by cancellation.
func (r *Repository) DeleteUsageByPaymentTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) error {
	var couponID uuid.UUID
	err := tx.QueryRow(ctx,
		`DELETE FROM coupon_usages WHERE payment_id = $1 RETURNING coupon_id`, paymentID).Scan(&couponID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // no coupon was applied
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE coupons SET used_count = GREATEST(used_count - 1, 0), updated_at = NOW() WHERE id = $1`, couponID)
	return err
}

// Create inserts a new coupon.
func (r *Repository) Create(ctx context.Context, c *models.Coupon) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO coupons (code, type, value, min_order_amount, max_discount, usage_limit, applies_to, course_ids, valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, used_count, created_at, updated_at`,
		c.Code, c.Type, c.Value, c.MinOrderAmount, c.MaxDiscount, c.UsageLimit,
		c.AppliesTo, c.CourseIDs, c.ValidFrom, c.ValidUntil, c.Active).
		Scan(&c.ID, &c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
}

// List returns all coupons, newest first.
func (r *Repository) List(ctx context.Context) ([]models.Coupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}
