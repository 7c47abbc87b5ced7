package models

import (
	"time"

	"github.com/google/uuid"
)

// Course is a published course available for purchase.
type Course struct {
	ID            uuid.UUID `json:"id"`
	InstructorID  uuid.UUID `json:"instructor_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Price         float64   `json:"price"`
	DiscountPrice *float64  `json:"discount_price,omitempty"`
	Published     bool      `json:"published"`
	EnrolledCount int       `json:"enrolled_count"`
	Revenue       float64   `json:"revenue"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EffectivePrice is the price a buyer actually pays: the discount price when
// one is set, otherwise the list price.
func (c *Course) EffectivePrice() float64 {
	if c.DiscountPrice != nil && *c.DiscountPrice > 0 && *c.DiscountPrice < c.Price {
		return *c.DiscountPrice
	}
	return c.Price
}
