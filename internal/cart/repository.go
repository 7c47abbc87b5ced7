package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/backend/internal/models"
)

// Repository provides cart persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a cart repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns a user's cart items, oldest first.
func (r *Repository) List(ctx context.Context, userID uuid.UUID) ([]*models.CartItem, error) {
	query := `
		SELECT id, user_id, course_id, created_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	defer rows.Close()

	var items []*models.CartItem
	for rows.Next() {
		var it models.CartItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.CourseID, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// Add puts a course in the user's cart. Adding a course already present is a
// no-op.
func (r *Repository) Add(ctx context.Context, userID, courseID uuid.UUID) error {
	query := `
		INSERT INTO cart_items (user_id, course_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, course_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, query, userID, courseID); err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

// Remove takes a course out of the user's cart.
func (r *Repository) Remove(ctx context.Context, userID, courseID uuid.UUID) error {
	query := `DELETE FROM cart_items WHERE user_id = $1 AND course_id = $2`
	if _, err := r.pool.Exec(ctx, query, userID, courseID); err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return nil
}

// RemoveByCourseIDs clears the given courses from the user's cart. Used after
// a successful purchase.
func (r *Repository) RemoveByCourseIDs(ctx context.Context, userID uuid.UUID, courseIDs []uuid.UUID) error {
	query := `DELETE FROM cart_items WHERE user_id = $1 AND course_id = ANY($2)`
	if _, err := r.pool.Exec(ctx, query, userID, courseIDs); err != nil {
		return fmt.Errorf("clear purchased cart items: %w", err)
	}
	return nil
}
