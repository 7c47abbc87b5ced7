package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus values. Transitions move forward only:
// pending -> completed | failed | cancelled, completed -> refunded.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
	PaymentStatusCancelled = "cancelled"
)

// Internal payment method taxonomy. Provider-specific method strings are
// normalized into these by the gateway adapters.
const (
	MethodCard         = "card"
	MethodUPI          = "upi"
	MethodNetbanking   = "netbanking"
	MethodWallet       = "wallet"
	MethodEMI          = "emi"
	MethodBankTransfer = "bank_transfer"
)

// RefundRequest statuses.
const (
	RefundRequestPending  = "pending"
	RefundRequestApproved = "approved"
	RefundRequestRejected = "rejected"
	RefundRequestFailed   = "failed"
)

// OrderItem is a snapshot of one purchased course at checkout time.
type OrderItem struct {
	CourseID       uuid.UUID `json:"course_id"`
	Title          string    `json:"title"`
	ListPrice      float64   `json:"list_price"`
	EffectivePrice float64   `json:"effective_price"`
}

// BillingAddress is the buyer-supplied billing address snapshot.
type BillingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// RefundRequest is the user-initiated refund request attached to a payment.
type RefundRequest struct {
	Status      string     `json:"status"`
	Reason      string     `json:"reason"`
	RequestedAt time.Time  `json:"requested_at"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	ReviewerID  *uuid.UUID `json:"reviewer_id,omitempty"`
	Failure     string     `json:"failure,omitempty"` // provider error when status is failed
}

// Payment is the aggregate root of the checkout pipeline. Rows are never
// deleted; state moves forward only, through conditional updates.
type Payment struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	OrderID        string    `json:"order_id"` // internal order identifier, checkout session key
	Gateway        string    `json:"gateway"`
	GatewayOrderID string    `json:"gateway_order_id,omitempty"`
	TransactionID  string    `json:"transaction_id,omitempty"` // provider payment reference
	Status         string    `json:"status"`
	Method         string    `json:"method,omitempty"`
	Currency       string    `json:"currency"`

	Amount         float64 `json:"amount"`
	OriginalAmount float64 `json:"original_amount"`
	DiscountAmount float64 `json:"discount_amount"`
	Tax            float64 `json:"tax"`
	CouponCode     string  `json:"coupon_code,omitempty"`

	OrderItems      []OrderItem     `json:"order_items"`
	BillingAddress  *BillingAddress `json:"billing_address,omitempty"`
	GatewayResponse json.RawMessage `json:"gateway_response,omitempty"`

	RefundRequest *RefundRequest `json:"refund_request,omitempty"`
	RefundAmount  *float64       `json:"refund_amount,omitempty"`
	RefundReason  string         `json:"refund_reason,omitempty"`
	RefundedAt    *time.Time     `json:"refunded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CourseIDs returns the IDs of the purchased courses.
func (p *Payment) CourseIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.OrderItems))
	for _, it := range p.OrderItems {
		ids = append(ids, it.CourseID)
	}
	return ids
}
