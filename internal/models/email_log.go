package models

import (
	"time"

	"github.com/google/uuid"
)

// Email types dispatched by the worker.
const (
	EmailTypePurchaseConfirmation = "purchase_confirmation"
	EmailTypeRefundProcessed      = "refund_processed"
)

// Email log statuses.
const (
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

// EmailLog is an audit row for a dispatched email.
type EmailLog struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	PaymentID    *uuid.UUID `json:"payment_id,omitempty"`
	EmailType    string     `json:"email_type"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
