package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification types emitted by the payment pipeline.
const (
	NotificationPurchaseCompleted = "purchase_completed"
	NotificationNewEnrollment     = "new_enrollment" // to instructor
	NotificationRefundRequested   = "refund_requested"
	NotificationRefundProcessed   = "refund_processed"
	NotificationRefundRejected    = "refund_rejected"
)

// Notification is an in-app notification row.
type Notification struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"`
}
