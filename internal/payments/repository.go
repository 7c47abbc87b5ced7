package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/backend/internal/models"
)

// ErrNotFound is returned when a payment does not exist.
var ErrNotFound = errors.New("payment not found")

const paymentColumns = `id, user_id, order_id, gateway, gateway_order_id, transaction_id,
	status, method, currency, amount, original_amount, discount_amount, tax, coupon_code,
	order_items, billing_address, gateway_response, refund_request,
	refund_amount, refund_reason, refunded_at, created_at, updated_at`

// Repository provides payment persistence. Status transitions are conditional
// updates against the current status, so concurrent callers cannot move a
// payment twice.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a payment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Begin starts a transaction on the underlying pool.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		p          models.Payment
		items      []byte
		billing    []byte
		gwResp     []byte
		refundReq  []byte
		couponCode *string
		refReason  *string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.OrderID, &p.Gateway, &p.GatewayOrderID, &p.TransactionID,
		&p.Status, &p.Method, &p.Currency, &p.Amount, &p.OriginalAmount, &p.DiscountAmount, &p.Tax, &couponCode,
		&items, &billing, &gwResp, &refundReq,
		&p.RefundAmount, &refReason, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if couponCode != nil {
		p.CouponCode = *couponCode
	}
	if refReason != nil {
		p.RefundReason = *refReason
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &p.OrderItems); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}
	if len(billing) > 0 {
		if err := json.Unmarshal(billing, &p.BillingAddress); err != nil {
			return nil, fmt.Errorf("decode billing address: %w", err)
		}
	}
	if len(gwResp) > 0 {
		p.GatewayResponse = gwResp
	}
	if len(refundReq) > 0 {
		if err := json.Unmarshal(refundReq, &p.RefundRequest); err != nil {
			return nil, fmt.Errorf("decode refund request: %w", err)
		}
	}
	return &p, nil
}

// CreateTx inserts a pending payment inside the caller's transaction.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payment) error {
	items, err := json.Marshal(p.OrderItems)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	var billing []byte
	if p.BillingAddress != nil {
		if billing, err = json.Marshal(p.BillingAddress); err != nil {
			return fmt.Errorf("encode billing address: %w", err)
		}
	}
	var couponCode *string
	if p.CouponCode != "" {
		couponCode = &p.CouponCode
	}
	query := `
		INSERT INTO payments (user_id, order_id, gateway, gateway_order_id, status, currency,
			amount, original_amount, discount_amount, tax, coupon_code, order_items, billing_address, gateway_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`
	err = tx.QueryRow(ctx, query,
		p.UserID, p.OrderID, p.Gateway, p.GatewayOrderID, models.PaymentStatusPending, p.Currency,
		p.Amount, p.OriginalAmount, p.DiscountAmount, p.Tax, couponCode, items, billing, []byte(p.GatewayResponse),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	p.Status = models.PaymentStatusPending
	return nil
}

// GetByID returns a payment by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// GetByOrderID returns a payment by its internal order identifier.
func (r *Repository) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	p, err := scanPayment(r.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by order: %w", err)
	}
	return p, nil
}

// ListByUser returns a user's payments, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = $1 ORDER BY created_at DESC LIMIT 100`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var list []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// MarkCompleted moves a pending payment to completed, recording the settled
// transaction details. Returns false when the payment was not pending, which
// callers use to detect a concurrent transition.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, transactionID, method string, gatewayResponse json.RawMessage) (bool, error) {
	query := `
		UPDATE payments
		SET status = $2, transaction_id = $3, method = $4,
		    gateway_response = COALESCE($5, gateway_response), updated_at = NOW()
		WHERE id = $1 AND status = $6`
	tag, err := r.pool.Exec(ctx, query, id,
		models.PaymentStatusCompleted, transactionID, method, []byte(gatewayResponse),
		models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark payment completed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a pending payment to failed.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	tag, err := r.pool.Exec(ctx, query, id, models.PaymentStatusFailed, models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark payment failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetRefundRequest stores the refund request sub-record without moving the
// payment state.
func (r *Repository) SetRefundRequest(ctx context.Context, id uuid.UUID, rr *models.RefundRequest) error {
	raw, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("encode refund request: %w", err)
	}
	query := `UPDATE payments SET refund_request = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("set refund request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRefundedTx moves a completed payment to refunded inside the caller's
// transaction, recording the refund fields and the approved request.
func (r *Repository) MarkRefundedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount float64, reason string, rr *models.RefundRequest, refundedAt time.Time) (bool, error) {
	raw, err := json.Marshal(rr)
	if err != nil {
		return false, fmt.Errorf("encode refund request: %w", err)
	}
	query := `
		UPDATE payments
		SET status = $2, refund_amount = $3, refund_reason = $4, refunded_at = $5,
		    refund_request = $6, updated_at = NOW()
		WHERE id = $1 AND status = $7`
	tag, err := tx.Exec(ctx, query, id,
		models.PaymentStatusRefunded, amount, reason, refundedAt, raw,
		models.PaymentStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("mark payment refunded: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelledTx moves a pending payment to cancelled inside the caller's
// transaction.
func (r *Repository) MarkCancelledTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	query := `UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	tag, err := tx.Exec(ctx, query, id, models.PaymentStatusCancelled, models.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark payment cancelled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
