package models

import (
	"time"

	"github.com/google/uuid"
)

// Revenue split between instructor and platform.
const (
	InstructorSharePercent = 70
	PlatformFeePercent     = 30
)

// EarningStatus values. A refund flips active to refunded; rows are never
// deleted.
const (
	EarningStatusActive   = "active"
	EarningStatusRefunded = "refunded"
)

// Earning records the revenue split for one course in one completed payment.
// Unique per (course, payment); only status ever changes after insert.
type Earning struct {
	ID              uuid.UUID `json:"id"`
	CourseID        uuid.UUID `json:"course_id"`
	InstructorID    uuid.UUID `json:"instructor_id"`
	PaymentID       uuid.UUID `json:"payment_id"`
	Gross           float64   `json:"gross"`
	InstructorShare float64   `json:"instructor_share"`
	PlatformFee     float64   `json:"platform_fee"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}
