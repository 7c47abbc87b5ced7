package courses

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/backend/internal/models"
)

const courseColumns = `id, instructor_id, title, description, price, discount_price,
	published, enrolled_count, revenue, created_at, updated_at`

// Repository provides course persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a course repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCourse(row pgx.Row) (*models.Course, error) {
	var c models.Course
	err := row.Scan(
		&c.ID, &c.InstructorID, &c.Title, &c.Description, &c.Price, &c.DiscountPrice,
		&c.Published, &c.EnrolledCount, &c.Revenue, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID returns a course by id, or nil when it does not exist.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	c, err := scanCourse(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

// GetPublishedByIDs returns the published courses among ids. Courses that do
// not exist or are unpublished are simply absent from the result.
func (r *Repository) GetPublishedByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = ANY($1) AND published = TRUE`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get published courses: %w", err)
	}
	defer rows.Close()

	var courses []*models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// ListPublished returns all published courses, newest first.
func (r *Repository) ListPublished(ctx context.Context) ([]*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE published = TRUE ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []*models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// Create inserts a new course.
func (r *Repository) Create(ctx context.Context, c *models.Course) error {
	query := `
		INSERT INTO courses (instructor_id, title, description, price, discount_price, published)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, enrolled_count, revenue, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		c.InstructorID, c.Title, c.Description, c.Price, c.DiscountPrice, c.Published,
	).Scan(&c.ID, &c.EnrolledCount, &c.Revenue, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// RecordEnrollmentTx bumps a course's enrolled count and revenue, and the
// instructor's running totals, inside the caller's transaction. revenue is
// the course's gross take; earning is the instructor's share of it.
func (r *Repository) RecordEnrollmentTx(ctx context.Context, tx pgx.Tx, courseID, instructorID uuid.UUID, revenue, earning float64) error {
	_, err := tx.Exec(ctx, `
		UPDATE courses
		SET enrolled_count = enrolled_count + 1, revenue = revenue + $2, updated_at = NOW()
		WHERE id = $1`, courseID, revenue)
	if err != nil {
		return fmt.Errorf("record enrollment on course: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO instructor_totals (instructor_id, total_earnings, total_students, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (instructor_id) DO UPDATE
		SET total_earnings = instructor_totals.total_earnings + EXCLUDED.total_earnings,
		    total_students = instructor_totals.total_students + 1,
		    updated_at = NOW()`, instructorID, earning)
	if err != nil {
		return fmt.Errorf("record instructor totals: %w", err)
	}
	return nil
}

// ReverseEnrollmentTx undoes the counter effects of a refunded enrollment
// inside the caller's transaction.
func (r *Repository) ReverseEnrollmentTx(ctx context.Context, tx pgx.Tx, courseID, instructorID uuid.UUID, revenue, earning float64) error {
	_, err := tx.Exec(ctx, `
		UPDATE courses
		SET enrolled_count = GREATEST(enrolled_count - 1, 0),
		    revenue = GREATEST(revenue - $2, 0),
		    updated_at = NOW()
		WHERE id = $1`, courseID, revenue)
	if err != nil {
		return fmt.Errorf("reverse enrollment on course: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE instructor_totals
		SET total_earnings = GREATEST(total_earnings - $2, 0),
		    total_students = GREATEST(total_students - 1, 0),
		    updated_at = NOW()
		WHERE instructor_id = $1`, instructorID, earning)
	if err != nil {
		return fmt.Errorf("reverse instructor totals: %w", err)
	}
	return nil
}
