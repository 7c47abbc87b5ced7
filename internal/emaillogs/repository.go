package emaillogs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/backend/internal/models"
)

// Repository records the outcome of dispatched emails.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const maxErrorLen = 500

// LogSent records a successfully sent email.
func (r *Repository) LogSent(ctx context.Context, userID uuid.UUID, paymentID *uuid.UUID, emailType, recipient, subject string) error {
	query := `
		INSERT INTO email_logs (user_id, payment_id, email_type, recipient, subject, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, userID, paymentID, emailType, recipient, subject,
		models.EmailStatusSent, time.Now())
	if err != nil {
		return fmt.Errorf("log sent email: %w", err)
	}
	return nil
}

// LogFailed records a failed email attempt.
func (r *Repository) LogFailed(ctx context.Context, userID uuid.UUID, paymentID *uuid.UUID, emailType, recipient, subject, errMsg string) error {
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}
	query := `
		INSERT INTO email_logs (user_id, payment_id, email_type, recipient, subject, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, userID, paymentID, emailType, recipient, subject,
		models.EmailStatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("log failed email: %w", err)
	}
	return nil
}

// ListByPayment returns the email log rows tied to a payment.
func (r *Repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]*models.EmailLog, error) {
	query := `
		SELECT id, user_id, payment_id, email_type, recipient, subject, status,
		       COALESCE(error_message, ''), sent_at, created_at
		FROM email_logs
		WHERE payment_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	defer rows.Close()

	var list []*models.EmailLog
	for rows.Next() {
		var l models.EmailLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.PaymentID, &l.EmailType, &l.Recipient,
			&l.Subject, &l.Status, &l.ErrorMessage, &l.SentAt, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
