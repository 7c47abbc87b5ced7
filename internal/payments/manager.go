package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/metrics"
	"github.com/learnhub/backend/pkg/queue"
)

// Manager errors.
var (
	ErrNotOwner            = errors.New("payment does not belong to caller")
	ErrRefundNotEligible   = errors.New("payment not eligible for refund")
	ErrRefundWindowExpired = errors.New("refund window expired")
	ErrRefundAlreadyDone   = errors.New("payment already refunded")
	ErrRefundPending       = errors.New("refund request already pending")
	ErrNoRefundRequest     = errors.New("no reviewable refund request")
	ErrNotRetryable        = errors.New("only failed payments can be retried")
	ErrNotCancellable      = errors.New("only pending payments can be cancelled")
)

// NewOrderID generates an internal order identifier.
func NewOrderID() string {
	return "ord_" + uuid.New().String()
}

// EmailQueue enqueues outbound email jobs.
type EmailQueue interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// UserDirectory resolves users for notification and email addressing.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// LifecycleStore is the payment persistence the manager drives. Satisfied by
// *Repository.
type LifecycleStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payment) error
	SetRefundRequest(ctx context.Context, id uuid.UUID, rr *models.RefundRequest) error
	MarkRefundedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount float64, reason string, rr *models.RefundRequest, refundedAt time.Time) (bool, error)
	MarkCancelledTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

// SessionStorage is the checkout-session access the manager needs.
type SessionStorage interface {
	Put(ctx context.Context, orderID string, sess *Session) error
	Delete(ctx context.Context, orderID string) error
}

// CouponUsages rolls coupon usage back when a pending payment is cancelled.
type CouponUsages interface {
	DeleteUsageByPaymentTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) error
}

// EnrollmentStore gates refund eligibility and flips enrollments on refund.
type EnrollmentStore interface {
	HasActive(ctx context.Context, userID, courseID uuid.UUID) (bool, error)
	MarkRefundedTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]*models.Enrollment, error)
}

// EarningStore flips earning rows on refund and returns them for reversal.
type EarningStore interface {
	MarkRefundedTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]*models.Earning, error)
}

// CourseCounters reverses course and instructor running totals on refund.
type CourseCounters interface {
	ReverseEnrollmentTx(ctx context.Context, tx pgx.Tx, courseID, instructorID uuid.UUID, revenue, earning float64) error
}

// Notices delivers fire-and-forget in-app notifications.
type Notices interface {
	Notify(ctx context.Context, userID uuid.UUID, typ, title, message string, payload any)
}

// Manager handles the payment lifecycle beyond verification: refund requests
// and decisions, retry of failed payments, cancellation of pending ones.
type Manager struct {
	repo        LifecycleStore
	sessions    SessionStorage
	registry    Registry
	coupons     CouponUsages
	enrollments EnrollmentStore
	earnings    EarningStore
	courses     CourseCounters
	users       UserDirectory
	notifier    Notices
	emails      EmailQueue
	logger      *zap.Logger

	refundWindow time.Duration
	callbackBase string // prefix for provider return/notify URLs
}

// ManagerParams wires a Manager.
type ManagerParams struct {
	Repo             LifecycleStore
	Sessions         SessionStorage
	Registry         Registry
	Coupons          CouponUsages
	Enrollments      EnrollmentStore
	Earnings         EarningStore
	Courses          CourseCounters
	Users            UserDirectory
	Notifier         Notices
	Emails           EmailQueue
	Logger           *zap.Logger
	RefundWindowDays int
	CallbackBase     string
}

// NewManager creates a payment lifecycle manager.
func NewManager(p ManagerParams) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:         p.Repo,
		sessions:     p.Sessions,
		registry:     p.Registry,
		coupons:      p.Coupons,
		enrollments:  p.Enrollments,
		earnings:     p.Earnings,
		courses:      p.Courses,
		users:        p.Users,
		notifier:     p.Notifier,
		emails:       p.Emails,
		logger:       logger,
		refundWindow: time.Duration(p.RefundWindowDays) * 24 * time.Hour,
		callbackBase: p.CallbackBase,
	}
}

// RequestRefund files a refund request on a completed payment. The payment
// state does not move; an admin decision does that.
func (m *Manager) RequestRefund(ctx context.Context, userID, paymentID uuid.UUID, reason string) (*models.RefundRequest, error) {
	pay, err := m.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pay.UserID != userID {
		return nil, ErrNotOwner
	}
	if pay.Status != models.PaymentStatusCompleted {
		return nil, ErrRefundNotEligible
	}
	if pay.RefundAmount != nil {
		return nil, ErrRefundAlreadyDone
	}
	if time.Since(pay.CreatedAt) > m.refundWindow {
		return nil, ErrRefundWindowExpired
	}
	if pay.RefundRequest != nil && pay.RefundRequest.Status == models.RefundRequestPending {
		return nil, ErrRefundPending
	}
	// The purchase must still grant access to at least one course.
	eligible := false
	for _, courseID := range pay.CourseIDs() {
		ok, err := m.enrollments.HasActive(ctx, userID, courseID)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = true
			break
		}
	}
	if !eligible {
		return nil, ErrRefundNotEligible
	}

	rr := &models.RefundRequest{
		Status:      models.RefundRequestPending,
		Reason:      reason,
		RequestedAt: time.Now(),
	}
	if err := m.repo.SetRefundRequest(ctx, paymentID, rr); err != nil {
		return nil, err
	}
	m.notifier.Notify(ctx, userID, models.NotificationRefundRequested,
		"Refund requested",
		fmt.Sprintf("Your refund request for order %s is under review.", pay.OrderID),
		map[string]string{"payment_id": paymentID.String()})
	return rr, nil
}

// ProcessRefund resolves a pending (or previously failed) refund request.
// Rejection only updates the sub-record. Approval calls the provider and, on
// success, moves the payment to refunded, marks its enrollments refunded and
// reverses course/instructor counters in one transaction. A provider failure
// marks the request failed and leaves the payment completed, so the decision
// can be re-invoked.
func (m *Manager) ProcessRefund(ctx context.Context, reviewerID, paymentID uuid.UUID, approve bool, note string) (*models.Payment, error) {
	pay, err := m.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	rr := pay.RefundRequest
	if rr == nil || (rr.Status != models.RefundRequestPending && rr.Status != models.RefundRequestFailed) {
		return nil, ErrNoRefundRequest
	}
	if pay.Status != models.PaymentStatusCompleted {
		return nil, ErrRefundNotEligible
	}
	now := time.Now()
	rr.ReviewedAt = &now
	rr.ReviewerID = &reviewerID

	if !approve {
		rr.Status = models.RefundRequestRejected
		if err := m.repo.SetRefundRequest(ctx, paymentID, rr); err != nil {
			return nil, err
		}
		metrics.RefundsProcessedTotal.WithLabelValues("rejected").Inc()
		m.notifier.Notify(ctx, pay.UserID, models.NotificationRefundRejected,
			"Refund request declined",
			fmt.Sprintf("Your refund request for order %s was declined. %s", pay.OrderID, note),
			map[string]string{"payment_id": paymentID.String()})
		pay.RefundRequest = rr
		return pay, nil
	}

	gw, err := m.registry.Get(pay.Gateway)
	if err != nil {
		return nil, err
	}
	ref := gateway.RefundRef{OrderID: pay.GatewayOrderID, TransactionID: pay.TransactionID}
	info, err := gw.CreateRefund(ctx, ref, pay.Amount, rr.Reason)
	if err != nil {
		rr.Status = models.RefundRequestFailed
		rr.Failure = err.Error()
		if setErr := m.repo.SetRefundRequest(ctx, paymentID, rr); setErr != nil {
			m.logger.Error("record refund failure", zap.Error(setErr), zap.String("payment_id", paymentID.String()))
		}
		metrics.RefundsProcessedTotal.WithLabelValues("failed").Inc()
		m.logger.Warn("provider refund failed",
			zap.Error(err),
			zap.String("payment_id", paymentID.String()),
			zap.String("gateway", pay.Gateway))
		return nil, err
	}

	rr.Status = models.RefundRequestApproved
	rr.Failure = ""
	tx, err := m.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	moved, err := m.repo.MarkRefundedTx(ctx, tx, paymentID, pay.Amount, rr.Reason, rr, now)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrRefundNotEligible
	}
	refunded, err := m.enrollments.MarkRefundedTx(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	reversed, err := m.earnings.MarkRefundedTx(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	byCourse := make(map[uuid.UUID]*models.Earning, len(reversed))
	for _, e := range reversed {
		byCourse[e.CourseID] = e
	}
	for _, enr := range refunded {
		e, ok := byCourse[enr.CourseID]
		if !ok {
			continue
		}
		if err := m.courses.ReverseEnrollmentTx(ctx, tx, enr.CourseID, e.InstructorID, e.Gross, e.InstructorShare); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	metrics.RefundsProcessedTotal.WithLabelValues("approved").Inc()
	m.logger.Info("payment refunded",
		zap.String("payment_id", paymentID.String()),
		zap.String("refund_id", info.RefundID),
		zap.Float64("amount", pay.Amount))

	m.notifier.Notify(ctx, pay.UserID, models.NotificationRefundProcessed,
		"Refund processed",
		fmt.Sprintf("Your refund of %.2f %s for order %s has been processed.", pay.Amount, pay.Currency, pay.OrderID),
		map[string]string{"payment_id": paymentID.String(), "refund_id": info.RefundID})
	m.sendRefundEmail(ctx, pay)

	return m.repo.GetByID(ctx, paymentID)
}

// Retry creates a brand-new order, payment and session cloned from a failed
// payment's financial breakdown. The failed payment stays untouched as an
// audit record, and no new coupon usage is written.
func (m *Manager) Retry(ctx context.Context, userID, paymentID uuid.UUID, gatewayName string) (*gateway.Order, *models.Payment, error) {
	prev, err := m.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if prev.UserID != userID {
		return nil, nil, ErrNotOwner
	}
	if prev.Status != models.PaymentStatusFailed {
		return nil, nil, ErrNotRetryable
	}
	if gatewayName == "" {
		gatewayName = prev.Gateway
	}
	gw, err := m.registry.Get(gatewayName)
	if err != nil {
		return nil, nil, err
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	orderID := NewOrderID()
	order, err := gw.CreateOrder(ctx, gateway.OrderRequest{
		OrderID:       orderID,
		Amount:        prev.Amount,
		Currency:      prev.Currency,
		CustomerID:    userID.String(),
		CustomerName:  user.FullName,
		CustomerEmail: user.Email,
		Description:   fmt.Sprintf("Retry of order %s", prev.OrderID),
		ReturnURL:     m.callbackBase + "/" + gatewayName + "?order_id=" + orderID,
		NotifyURL:     m.callbackBase + "/" + gatewayName + "?order_id=" + orderID,
	})
	if err != nil {
		return nil, nil, err
	}

	next := &models.Payment{
		UserID:          userID,
		OrderID:         orderID,
		Gateway:         gatewayName,
		GatewayOrderID:  order.ExternalID,
		Currency:        prev.Currency,
		Amount:          prev.Amount,
		OriginalAmount:  prev.OriginalAmount,
		DiscountAmount:  prev.DiscountAmount,
		Tax:             prev.Tax,
		CouponCode:      prev.CouponCode,
		OrderItems:      prev.OrderItems,
		BillingAddress:  prev.BillingAddress,
		GatewayResponse: order.Raw,
	}
	tx, err := m.repo.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)
	if err := m.repo.CreateTx(ctx, tx, next); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	if err := m.sessions.Put(ctx, orderID, &Session{
		PaymentID:      next.ID,
		GatewayOrderID: order.ExternalID,
		UserID:         userID,
		CourseIDs:      next.CourseIDs(),
		FinalAmount:    next.Amount,
	}); err != nil {
		return nil, nil, err
	}
	m.logger.Info("payment retried",
		zap.String("failed_payment_id", paymentID.String()),
		zap.String("payment_id", next.ID.String()),
		zap.String("gateway", gatewayName))
	return order, next, nil
}

// Cancel moves a pending payment to cancelled and rolls back its coupon
// usage, the only place outside expiry where used_count is decremented.
func (m *Manager) Cancel(ctx context.Context, userID, paymentID uuid.UUID) error {
	pay, err := m.repo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if pay.UserID != userID {
		return ErrNotOwner
	}
	if pay.Status != models.PaymentStatusPending {
		return ErrNotCancellable
	}

	tx, err := m.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	moved, err := m.repo.MarkCancelledTx(ctx, tx, paymentID)
	if err != nil {
		return err
	}
	if !moved {
		return ErrNotCancellable
	}
	if pay.CouponCode != "" {
		if err := m.coupons.DeleteUsageByPaymentTx(ctx, tx, paymentID); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	metrics.PaymentsCancelledTotal.Inc()
	if err := m.sessions.Delete(ctx, pay.OrderID); err != nil {
		m.logger.Warn("delete session on cancel", zap.Error(err), zap.String("order_id", pay.OrderID))
	}
	m.logger.Info("payment cancelled", zap.String("payment_id", paymentID.String()))
	return nil
}

func (m *Manager) sendRefundEmail(ctx context.Context, pay *models.Payment) {
	user, err := m.users.GetByID(ctx, pay.UserID)
	if err != nil {
		m.logger.Warn("load user for refund email", zap.Error(err), zap.String("user_id", pay.UserID.String()))
		return
	}
	pid := pay.ID
	err = m.emails.EnqueueEmail(ctx, queue.EmailPayload{
		EmailType: models.EmailTypeRefundProcessed,
		UserID:    pay.UserID,
		PaymentID: &pid,
		Recipient: user.Email,
		Subject:   fmt.Sprintf("Refund processed for order %s", pay.OrderID),
		BodyHTML: fmt.Sprintf(
			"<p>Hi %s,</p><p>Your refund of <b>%.2f %s</b> for order <b>%s</b> has been processed. It may take a few business days to reflect on your statement.</p>",
			user.FullName, pay.Amount, pay.Currency, pay.OrderID),
	})
	if err != nil {
		m.logger.Warn("enqueue refund email", zap.Error(err), zap.String("payment_id", pay.ID.String()))
	}
}
