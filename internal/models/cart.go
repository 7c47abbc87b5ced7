package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is a course a user intends to buy. One row per (user, course).
type CartItem struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	CourseID  uuid.UUID `json:"course_id"`
	CreatedAt time.Time `json:"created_at"`
}
