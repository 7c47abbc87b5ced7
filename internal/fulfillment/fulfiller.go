package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/cart"
	"github.com/learnhub/backend/internal/courses"
	"github.com/learnhub/backend/internal/earnings"
	"github.com/learnhub/backend/internal/enrollments"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/internal/notifications"
	"github.com/learnhub/backend/internal/payments"
	"github.com/learnhub/backend/pkg/metrics"
	"github.com/learnhub/backend/pkg/queue"
	"github.com/learnhub/backend/pkg/utils"
)

// EmailQueue enqueues outbound email jobs.
type EmailQueue interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Fulfiller turns a completed payment into enrollments, earnings and
// counters. Safe to re-run for the same payment: the enrollment row per
// (user, course, payment) is the idempotency guard, and everything derived
// from it is written in the same transaction.
type Fulfiller struct {
	payments    *payments.Repository
	enrollments *enrollments.Repository
	earnings    *earnings.Repository
	courses     *courses.Repository
	cart        *cart.Repository
	users       payments.UserDirectory
	sessions    *payments.SessionStore
	notifier    *notifications.Notifier
	emails      EmailQueue
	cache       *redis.Client
	logger      *zap.Logger
}

// FulfillerParams wires a Fulfiller.
type FulfillerParams struct {
	Payments    *payments.Repository
	Enrollments *enrollments.Repository
	Earnings    *earnings.Repository
	Courses     *courses.Repository
	Cart        *cart.Repository
	Users       payments.UserDirectory
	Sessions    *payments.SessionStore
	Notifier    *notifications.Notifier
	Emails      EmailQueue
	Cache       *redis.Client
	Logger      *zap.Logger
}

// NewFulfiller creates a fulfiller.
func NewFulfiller(p FulfillerParams) *Fulfiller {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fulfiller{
		payments:    p.Payments,
		enrollments: p.Enrollments,
		earnings:    p.Earnings,
		courses:     p.Courses,
		cart:        p.Cart,
		users:       p.Users,
		sessions:    p.Sessions,
		notifier:    p.Notifier,
		emails:      p.Emails,
		cache:       p.Cache,
		logger:      logger,
	}
}

// Fulfill grants the purchase of a completed payment. Returning an error
// makes the worker retry the whole job, which is safe.
func (f *Fulfiller) Fulfill(ctx context.Context, paymentID uuid.UUID) error {
	pay, err := f.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	switch pay.Status {
	case models.PaymentStatusCompleted:
	case models.PaymentStatusRefunded:
		// Refund won the race against a late fulfillment retry; the refund
		// path already reversed everything this job would create.
		f.logger.Warn("skipping fulfillment of refunded payment",
			zap.String("payment_id", paymentID.String()))
		return nil
	default:
		metrics.FulfillmentsTotal.WithLabelValues("skipped").Inc()
		return fmt.Errorf("payment %s not completed (status %s)", paymentID, pay.Status)
	}

	created := 0
	for _, item := range pay.OrderItems {
		ok, err := f.fulfillCourse(ctx, pay, item)
		if err != nil {
			metrics.FulfillmentsTotal.WithLabelValues("error").Inc()
			return err
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		f.notifier.Notify(ctx, pay.UserID, models.NotificationPurchaseCompleted,
			"Purchase completed",
			fmt.Sprintf("Your payment for order %s went through. %d course(s) are now available.", pay.OrderID, len(pay.OrderItems)),
			map[string]string{"payment_id": pay.ID.String()})
		f.sendConfirmationEmail(ctx, pay)
	}

	if err := f.cart.RemoveByCourseIDs(ctx, pay.UserID, pay.CourseIDs()); err != nil {
		f.logger.Warn("clear cart after purchase", zap.Error(err), zap.String("payment_id", pay.ID.String()))
	}
	f.invalidateCaches(ctx, pay)
	if err := f.sessions.Delete(ctx, pay.OrderID); err != nil {
		f.logger.Warn("delete checkout session", zap.Error(err), zap.String("order_id", pay.OrderID))
	}

	metrics.FulfillmentsTotal.WithLabelValues("ok").Inc()
	f.logger.Info("payment fulfilled",
		zap.String("payment_id", pay.ID.String()),
		zap.Int("courses", len(pay.OrderItems)),
		zap.Int("new_enrollments", created))
	return nil
}

// fulfillCourse grants one course. Returns false when the enrollment already
// existed and nothing was written.
func (f *Fulfiller) fulfillCourse(ctx context.Context, pay *models.Payment, item models.OrderItem) (bool, error) {
	course, err := f.courses.GetByID(ctx, item.CourseID)
	if err != nil {
		return false, err
	}
	if course == nil {
		// Course row vanished between checkout and fulfillment. Money moved,
		// so flag it loudly for support instead of failing the whole job.
		f.logger.Error("purchased course missing at fulfillment",
			zap.String("course_id", item.CourseID.String()),
			zap.String("payment_id", pay.ID.String()))
		return false, nil
	}

	tx, err := f.payments.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	enr := &models.Enrollment{
		UserID:    pay.UserID,
		CourseID:  item.CourseID,
		PaymentID: pay.ID,
		Status:    models.EnrollmentStatusActive,
		Source:    models.EnrollmentSourcePurchase,
	}
	inserted, err := f.enrollments.CreateTx(ctx, tx, enr)
	if err != nil {
		return false, err
	}
	if !inserted {
		// Re-run of an already fulfilled course.
		return false, nil
	}

	gross := item.EffectivePrice
	share := utils.Round2(gross * models.InstructorSharePercent / 100)
	fee := utils.Round2(gross - share)
	if _, err := f.earnings.CreateTx(ctx, tx, &models.Earning{
		CourseID:        item.CourseID,
		InstructorID:    course.InstructorID,
		PaymentID:       pay.ID,
		Gross:           gross,
		InstructorShare: share,
		PlatformFee:     fee,
	}); err != nil {
		return false, err
	}
	if err := f.courses.RecordEnrollmentTx(ctx, tx, item.CourseID, course.InstructorID, gross, share); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	f.notifier.Notify(ctx, course.InstructorID, models.NotificationNewEnrollment,
		"New enrollment",
		fmt.Sprintf("A student enrolled in %s.", course.Title),
		map[string]string{"course_id": course.ID.String(), "payment_id": pay.ID.String()})
	return true, nil
}

func (f *Fulfiller) sendConfirmationEmail(ctx context.Context, pay *models.Payment) {
	user, err := f.users.GetByID(ctx, pay.UserID)
	if err != nil {
		f.logger.Warn("load user for confirmation email", zap.Error(err), zap.String("user_id", pay.UserID.String()))
		return
	}
	body := fmt.Sprintf("<p>Hi %s,</p><p>Thanks for your purchase. Order <b>%s</b> is confirmed:</p><ul>", user.FullName, pay.OrderID)
	for _, item := range pay.OrderItems {
		body += fmt.Sprintf("<li>%s — %.2f %s</li>", item.Title, item.EffectivePrice, pay.Currency)
	}
	body += fmt.Sprintf("</ul><p>Total paid: <b>%.2f %s</b></p>", pay.Amount, pay.Currency)

	pid := pay.ID
	err = f.emails.EnqueueEmail(ctx, queue.EmailPayload{
		EmailType: models.EmailTypePurchaseConfirmation,
		UserID:    pay.UserID,
		PaymentID: &pid,
		Recipient: user.Email,
		Subject:   fmt.Sprintf("Order %s confirmed", pay.OrderID),
		BodyHTML:  body,
	})
	if err != nil {
		f.logger.Warn("enqueue confirmation email", zap.Error(err), zap.String("payment_id", pay.ID.String()))
	}
}

// invalidateCaches drops memoized views touched by the purchase.
func (f *Fulfiller) invalidateCaches(ctx context.Context, pay *models.Payment) {
	keys := []string{
		"cache:user:" + pay.UserID.String() + ":courses",
		"cache:user:" + pay.UserID.String() + ":cart",
	}
	for _, id := range pay.CourseIDs() {
		keys = append(keys, "cache:course:"+id.String())
	}
	if err := f.cache.Del(ctx, keys...).Err(); err != nil {
		f.logger.Warn("cache invalidation", zap.Error(err), zap.String("payment_id", pay.ID.String()))
	}
}
