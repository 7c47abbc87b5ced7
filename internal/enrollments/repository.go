package enrollments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/backend/internal/models"
)

// Repository provides enrollment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an enrollment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateTx inserts an enrollment inside the caller's transaction. Returns
// false when the (user, course, payment) row already exists, which makes
// fulfillment retries idempotent.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, e *models.Enrollment) (bool, error) {
	query := `
		INSERT INTO enrollments (user_id, course_id, payment_id, status, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, course_id, payment_id) DO NOTHING
		RETURNING id, enrolled_at`
	err := tx.QueryRow(ctx, query, e.UserID, e.CourseID, e.PaymentID, e.Status, e.Source).
		Scan(&e.ID, &e.EnrolledAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create enrollment: %w", err)
	}
	return true, nil
}

// ListByUser returns a user's enrollments, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Enrollment, error) {
	query := `
		SELECT id, user_id, course_id, payment_id, status, source, enrolled_at
		FROM enrollments
		WHERE user_id = $1
		ORDER BY enrolled_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var list []*models.Enrollment
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.ID, &e.UserID, &e.CourseID, &e.PaymentID, &e.Status, &e.Source, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// HasActive reports whether the user holds an active enrollment for the course.
func (r *Repository) HasActive(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM enrollments
		WHERE user_id = $1 AND course_id = $2 AND status IN ('active', 'completed'))`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, courseID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// MarkRefundedTx flips all enrollments tied to a payment to refunded, inside
// the caller's transaction, and returns them so counters can be reversed.
func (r *Repository) MarkRefundedTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]*models.Enrollment, error) {
	query := `
		UPDATE enrollments
		SET status = 'refunded'
		WHERE payment_id = $1 AND status <> 'refunded'
		RETURNING id, user_id, course_id, payment_id, status, source, enrolled_at`
	rows, err := tx.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("mark enrollments refunded: %w", err)
	}
	defer rows.Close()

	var list []*models.Enrollment
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.ID, &e.UserID, &e.CourseID, &e.PaymentID, &e.Status, &e.Source, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
