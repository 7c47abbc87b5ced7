package models

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment statuses.
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusRefunded  = "refunded"
)

// Enrollment sources.
const (
	EnrollmentSourcePurchase = "purchase"
	EnrollmentSourceAdmin    = "admin"
)

// Enrollment grants a student access to a course. One row per
// (student, course, payment); created only by fulfillment.
type Enrollment struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	CourseID   uuid.UUID `json:"course_id"`
	PaymentID  uuid.UUID `json:"payment_id"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
