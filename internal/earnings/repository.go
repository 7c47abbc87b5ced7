package earnings

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/backend/internal/models"
)

// Repository provides earning persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an earnings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateTx inserts an earning inside the caller's transaction. Returns false
// when the (course, payment) row already exists.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, e *models.Earning) (bool, error) {
	query := `
		INSERT INTO earnings (course_id, instructor_id, payment_id, gross, instructor_share, platform_fee)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (course_id, payment_id) DO NOTHING
		RETURNING id, status, created_at`
	err := tx.QueryRow(ctx, query,
		e.CourseID, e.InstructorID, e.PaymentID, e.Gross, e.InstructorShare, e.PlatformFee,
	).Scan(&e.ID, &e.Status, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create earning: %w", err)
	}
	return true, nil
}

// ListByInstructor returns an instructor's earnings, newest first.
func (r *Repository) ListByInstructor(ctx context.Context, instructorID uuid.UUID) ([]*models.Earning, error) {
	query := `
		SELECT id, course_id, instructor_id, payment_id, gross, instructor_share, platform_fee, status, created_at
		FROM earnings
		WHERE instructor_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, instructorID)
	if err != nil {
		return nil, fmt.Errorf("list earnings: %w", err)
	}
	defer rows.Close()

	var list []*models.Earning
	for rows.Next() {
		var e models.Earning
		if err := rows.Scan(&e.ID, &e.CourseID, &e.InstructorID, &e.PaymentID,
			&e.Gross, &e.InstructorShare, &e.PlatformFee, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// MarkRefundedTx flips the earning rows of a refunded payment to refunded,
// inside the caller's transaction, and returns them so totals can be
// reversed. The rows stay as an audit record.
func (r *Repository) MarkRefundedTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]*models.Earning, error) {
	query := `
		UPDATE earnings
		SET status = 'refunded'
		WHERE payment_id = $1 AND status <> 'refunded'
		RETURNING id, course_id, instructor_id, payment_id, gross, instructor_share, platform_fee, status, created_at`
	rows, err := tx.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("mark earnings refunded: %w", err)
	}
	defer rows.Close()

	var list []*models.Earning
	for rows.Next() {
		var e models.Earning
		if err := rows.Scan(&e.ID, &e.CourseID, &e.InstructorID, &e.PaymentID,
			&e.Gross, &e.InstructorShare, &e.PlatformFee, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
