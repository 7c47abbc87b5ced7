package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/queue"
)

// stubTx satisfies pgx.Tx for fakes that ignore the transaction handle.
type stubTx struct{ pgx.Tx }

func (stubTx) Commit(ctx context.Context) error   { return nil }
func (stubTx) Rollback(ctx context.Context) error { return nil }

type lifecycleStore struct {
	payments map[uuid.UUID]*models.Payment
}

func newLifecycleStore(ps ...*models.Payment) *lifecycleStore {
	s := &lifecycleStore{payments: map[uuid.UUID]*models.Payment{}}
	for _, p := range ps {
		s.payments[p.ID] = p
	}
	return s
}

func (s *lifecycleStore) Begin(ctx context.Context) (pgx.Tx, error) { return stubTx{}, nil }

func (s *lifecycleStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	if p.RefundRequest != nil {
		rr := *p.RefundRequest
		cp.RefundRequest = &rr
	}
	return &cp, nil
}

func (s *lifecycleStore) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payment) error {
	p.ID = uuid.New()
	p.Status = models.PaymentStatusPending
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *lifecycleStore) SetRefundRequest(ctx context.Context, id uuid.UUID, rr *models.RefundRequest) error {
	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}
	cp := *rr
	p.RefundRequest = &cp
	return nil
}

func (s *lifecycleStore) MarkRefundedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount float64, reason string, rr *models.RefundRequest, refundedAt time.Time) (bool, error) {
	p, ok := s.payments[id]
	if !ok || p.Status != models.PaymentStatusCompleted {
		return false, nil
	}
	p.Status = models.PaymentStatusRefunded
	p.RefundAmount = &amount
	p.RefundReason = reason
	cp := *rr
	p.RefundRequest = &cp
	at := refundedAt
	p.RefundedAt = &at
	return true, nil
}

func (s *lifecycleStore) MarkCancelledTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	p, ok := s.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusCancelled
	return true, nil
}

type sessionRec struct {
	put     map[string]*Session
	deleted []string
}

func (s *sessionRec) Put(ctx context.Context, orderID string, sess *Session) error {
	if s.put == nil {
		s.put = map[string]*Session{}
	}
	s.put[orderID] = sess
	return nil
}

func (s *sessionRec) Delete(ctx context.Context, orderID string) error {
	s.deleted = append(s.deleted, orderID)
	return nil
}

type usageRec struct {
	deleted []uuid.UUID
}

func (u *usageRec) DeleteUsageByPaymentTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) error {
	u.deleted = append(u.deleted, paymentID)
	return nil
}

type enrollRec struct {
	active      map[uuid.UUID]bool
	enrollments []*models.Enrollment
}

func (e *enrollRec) HasActive(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	return e.active[courseID], nil
}

func (e *enrollRec) MarkRefundedTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]*models.Enrollment, error) {
	var out []*models.Enrollment
	for _, en := range e.enrollments {
		if en.PaymentID == paymentID && en.Status != models.EnrollmentStatusRefunded {
			en.Status = models.EnrollmentStatusRefunded
			out = append(out, en)
		}
	}
	return out, nil
}

type earnRec struct {
	earnings []*models.Earning
}

func (e *earnRec) MarkRefundedTx(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) ([]*models.Earning, error) {
	var out []*models.Earning
	for _, ea := range e.earnings {
		if ea.PaymentID == paymentID && ea.Status != models.EarningStatusRefunded {
			ea.Status = models.EarningStatusRefunded
			out = append(out, ea)
		}
	}
	return out, nil
}

type reversal struct {
	courseID     uuid.UUID
	instructorID uuid.UUID
	revenue      float64
	earning      float64
}

type counterRec struct {
	reversals []reversal
}

func (c *counterRec) ReverseEnrollmentTx(ctx context.Context, tx pgx.Tx, courseID, instructorID uuid.UUID, revenue, earning float64) error {
	c.reversals = append(c.reversals, reversal{courseID, instructorID, revenue, earning})
	return nil
}

type noticeRec struct {
	types []string
}

func (n *noticeRec) Notify(ctx context.Context, userID uuid.UUID, typ, title, message string, payload any) {
	n.types = append(n.types, typ)
}

type emailRec struct {
	sent []queue.EmailPayload
}

func (e *emailRec) EnqueueEmail(ctx context.Context, p queue.EmailPayload) error {
	e.sent = append(e.sent, p)
	return nil
}

type userDir struct {
	user *models.User
}

func (u *userDir) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return u.user, nil
}

type refundGateway struct {
	refundInfo *gateway.RefundInfo
	refundErr  error
	refundRefs []gateway.RefundRef
	order      *gateway.Order
	createErr  error
	requests   []gateway.OrderRequest
}

func (g *refundGateway) Name() string { return "razorpay" }

func (g *refundGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.order, nil
}

func (g *refundGateway) VerifyCompletion(ctx context.Context, ev gateway.Evidence) (bool, error) {
	return false, nil
}

func (g *refundGateway) FetchSettledDetails(ctx context.Context, externalID string) (*gateway.PaymentInfo, error) {
	return nil, nil
}

func (g *refundGateway) CreateRefund(ctx context.Context, ref gateway.RefundRef, amount float64, note string) (*gateway.RefundInfo, error) {
	g.refundRefs = append(g.refundRefs, ref)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return g.refundInfo, nil
}

type managerFixture struct {
	m        *Manager
	store    *lifecycleStore
	sessions *sessionRec
	usages   *usageRec
	enrolls  *enrollRec
	earns    *earnRec
	counters *counterRec
	notices  *noticeRec
	emails   *emailRec
	gw       *refundGateway
}

func newManagerFixture(store *lifecycleStore) *managerFixture {
	f := &managerFixture{
		store:    store,
		sessions: &sessionRec{},
		usages:   &usageRec{},
		enrolls:  &enrollRec{active: map[uuid.UUID]bool{}},
		earns:    &earnRec{},
		counters: &counterRec{},
		notices:  &noticeRec{},
		emails:   &emailRec{},
		gw: &refundGateway{
			refundInfo: &gateway.RefundInfo{RefundID: "rfnd_1", Status: "processed"},
			order:      &gateway.Order{Gateway: "razorpay", ExternalID: "rzp_order_2", Flow: gateway.FlowRedirect},
		},
	}
	f.m = NewManager(ManagerParams{
		Repo:             store,
		Sessions:         f.sessions,
		Registry:         &fakeGatewayRegistry{gw: f.gw},
		Coupons:          f.usages,
		Enrollments:      f.enrolls,
		Earnings:         f.earns,
		Courses:          f.counters,
		Users:            &userDir{user: &models.User{ID: uuid.New(), Email: "buyer@example.com", FullName: "Buyer"}},
		Notifier:         f.notices,
		Emails:           f.emails,
		RefundWindowDays: 30,
		CallbackBase:     "https://api.example.com/payments/callback",
	})
	return f
}

func completedPayment(userID, courseID uuid.UUID) *models.Payment {
	return &models.Payment{
		ID:             uuid.New(),
		UserID:         userID,
		OrderID:        "ord_done",
		Gateway:        "razorpay",
		GatewayOrderID: "rzp_order_1",
		TransactionID:  "pay_abc",
		Status:         models.PaymentStatusCompleted,
		Currency:       "INR",
		Amount:         1180,
		OriginalAmount: 1000,
		Tax:            180,
		OrderItems: []models.OrderItem{
			{CourseID: courseID, Title: "Go Basics", ListPrice: 1000, EffectivePrice: 1000},
		},
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}
}

func TestRequestRefund(t *testing.T) {
	userID := uuid.New()
	courseID := uuid.New()
	pay := completedPayment(userID, courseID)
	f := newManagerFixture(newLifecycleStore(pay))
	f.enrolls.active[courseID] = true

	rr, err := f.m.RequestRefund(context.Background(), userID, pay.ID, "not what I expected")
	require.NoError(t, err)

	assert.Equal(t, models.RefundRequestPending, rr.Status)
	assert.Equal(t, "not what I expected", rr.Reason)
	assert.Equal(t, models.RefundRequestPending, f.store.payments[pay.ID].RefundRequest.Status)
	assert.Contains(t, f.notices.types, models.NotificationRefundRequested)
}

func TestRequestRefundWindowExpired(t *testing.T) {
	userID := uuid.New()
	courseID := uuid.New()
	pay := completedPayment(userID, courseID)
	pay.CreatedAt = time.Now().Add(-31 * 24 * time.Hour)
	f := newManagerFixture(newLifecycleStore(pay))
	f.enrolls.active[courseID] = true

	_, err := f.m.RequestRefund(context.Background(), userID, pay.ID, "too late")
	assert.ErrorIs(t, err, ErrRefundWindowExpired)
	assert.Nil(t, f.store.payments[pay.ID].RefundRequest)
}

func TestRequestRefundNotOwner(t *testing.T) {
	pay := completedPayment(uuid.New(), uuid.New())
	f := newManagerFixture(newLifecycleStore(pay))

	_, err := f.m.RequestRefund(context.Background(), uuid.New(), pay.ID, "mine now")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestRequestRefundNoActiveEnrollment(t *testing.T) {
	userID := uuid.New()
	pay := completedPayment(userID, uuid.New())
	f := newManagerFixture(newLifecycleStore(pay))

	_, err := f.m.RequestRefund(context.Background(), userID, pay.ID, "nothing to give back")
	assert.ErrorIs(t, err, ErrRefundNotEligible)
}

func refundFixture(t *testing.T) (*managerFixture, *models.Payment, uuid.UUID, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	courseID := uuid.New()
	instructorID := uuid.New()
	pay := completedPayment(userID, courseID)
	pay.RefundRequest = &models.RefundRequest{
		Status:      models.RefundRequestPending,
		Reason:      "not what I expected",
		RequestedAt: time.Now(),
	}
	f := newManagerFixture(newLifecycleStore(pay))
	f.enrolls.enrollments = []*models.Enrollment{{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		PaymentID: pay.ID,
		Status:    models.EnrollmentStatusActive,
	}}
	f.earns.earnings = []*models.Earning{{
		ID:              uuid.New(),
		CourseID:        courseID,
		InstructorID:    instructorID,
		PaymentID:       pay.ID,
		Gross:           1000,
		InstructorShare: 700,
		PlatformFee:     300,
		Status:          models.EarningStatusActive,
	}}
	return f, pay, courseID, instructorID
}

func TestProcessRefundApprove(t *testing.T) {
	f, pay, courseID, instructorID := refundFixture(t)

	res, err := f.m.ProcessRefund(context.Background(), uuid.New(), pay.ID, true, "")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusRefunded, res.Status)
	require.NotNil(t, res.RefundAmount)
	assert.Equal(t, 1180.0, *res.RefundAmount)
	assert.Equal(t, models.RefundRequestApproved, res.RefundRequest.Status)
	assert.NotNil(t, res.RefundedAt)

	// Provider was handed both refund handles.
	require.Len(t, f.gw.refundRefs, 1)
	assert.Equal(t, "rzp_order_1", f.gw.refundRefs[0].OrderID)
	assert.Equal(t, "pay_abc", f.gw.refundRefs[0].TransactionID)

	// Enrollment and earning flipped, never deleted.
	assert.Equal(t, models.EnrollmentStatusRefunded, f.enrolls.enrollments[0].Status)
	assert.Equal(t, models.EarningStatusRefunded, f.earns.earnings[0].Status)

	// Course revenue loses the gross, the instructor total loses the share.
	require.Len(t, f.counters.reversals, 1)
	rev := f.counters.reversals[0]
	assert.Equal(t, courseID, rev.courseID)
	assert.Equal(t, instructorID, rev.instructorID)
	assert.Equal(t, 1000.0, rev.revenue)
	assert.Equal(t, 700.0, rev.earning)

	assert.Contains(t, f.notices.types, models.NotificationRefundProcessed)
	require.Len(t, f.emails.sent, 1)
	assert.Equal(t, models.EmailTypeRefundProcessed, f.emails.sent[0].EmailType)
}

func TestProcessRefundReject(t *testing.T) {
	f, pay, _, _ := refundFixture(t)

	res, err := f.m.ProcessRefund(context.Background(), uuid.New(), pay.ID, false, "outside policy")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCompleted, res.Status)
	assert.Equal(t, models.RefundRequestRejected, res.RefundRequest.Status)
	assert.Empty(t, f.gw.refundRefs)
	assert.Equal(t, models.EnrollmentStatusActive, f.enrolls.enrollments[0].Status)
	assert.Contains(t, f.notices.types, models.NotificationRefundRejected)
}

func TestProcessRefundProviderFailureThenRetry(t *testing.T) {
	f, pay, _, _ := refundFixture(t)
	f.gw.refundErr = gateway.ErrUnavailable

	_, err := f.m.ProcessRefund(context.Background(), uuid.New(), pay.ID, true, "")
	require.ErrorIs(t, err, gateway.ErrUnavailable)

	// Payment stays completed with the request marked failed, so the
	// decision can be re-invoked.
	stored := f.store.payments[pay.ID]
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, models.RefundRequestFailed, stored.RefundRequest.Status)
	assert.NotEmpty(t, stored.RefundRequest.Failure)

	f.gw.refundErr = nil
	res, err := f.m.ProcessRefund(context.Background(), uuid.New(), pay.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, res.Status)
	assert.Equal(t, models.RefundRequestApproved, res.RefundRequest.Status)
}

func TestProcessRefundNoRequest(t *testing.T) {
	pay := completedPayment(uuid.New(), uuid.New())
	f := newManagerFixture(newLifecycleStore(pay))

	_, err := f.m.ProcessRefund(context.Background(), uuid.New(), pay.ID, true, "")
	assert.ErrorIs(t, err, ErrNoRefundRequest)
}

func failedPayment(userID, courseID uuid.UUID) *models.Payment {
	p := completedPayment(userID, courseID)
	p.Status = models.PaymentStatusFailed
	p.OrderID = "ord_failed"
	p.TransactionID = ""
	p.DiscountAmount = 100
	p.CouponCode = "SAVE10"
	return p
}

func TestRetryClonesBreakdown(t *testing.T) {
	userID := uuid.New()
	courseID := uuid.New()
	prev := failedPayment(userID, courseID)
	f := newManagerFixture(newLifecycleStore(prev))

	order, next, err := f.m.Retry(context.Background(), userID, prev.ID, "")
	require.NoError(t, err)

	assert.Equal(t, "rzp_order_2", order.ExternalID)
	assert.NotEqual(t, prev.ID, next.ID)
	assert.NotEqual(t, prev.OrderID, next.OrderID)
	assert.Equal(t, models.PaymentStatusPending, next.Status)
	assert.Equal(t, prev.Gateway, next.Gateway)
	assert.Equal(t, prev.Amount, next.Amount)
	assert.Equal(t, prev.OriginalAmount, next.OriginalAmount)
	assert.Equal(t, prev.DiscountAmount, next.DiscountAmount)
	assert.Equal(t, prev.Tax, next.Tax)
	assert.Equal(t, prev.CouponCode, next.CouponCode)
	assert.Equal(t, prev.OrderItems, next.OrderItems)

	// The failed payment is untouched and no new coupon usage is written.
	assert.Equal(t, models.PaymentStatusFailed, f.store.payments[prev.ID].Status)
	assert.Empty(t, f.usages.deleted)

	sess := f.sessions.put[next.OrderID]
	require.NotNil(t, sess)
	assert.Equal(t, next.ID, sess.PaymentID)
	assert.Equal(t, 1180.0, sess.FinalAmount)

	require.Len(t, f.gw.requests, 1)
	assert.True(t, strings.HasSuffix(f.gw.requests[0].ReturnURL, "?order_id="+next.OrderID))
}

func TestRetryOnlyFailedPayments(t *testing.T) {
	userID := uuid.New()
	pay := completedPayment(userID, uuid.New())
	f := newManagerFixture(newLifecycleStore(pay))

	_, _, err := f.m.Retry(context.Background(), userID, pay.ID, "")
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestCancelRestoresCouponUsage(t *testing.T) {
	userID := uuid.New()
	pay := completedPayment(userID, uuid.New())
	pay.Status = models.PaymentStatusPending
	pay.CouponCode = "SAVE10"
	f := newManagerFixture(newLifecycleStore(pay))

	err := f.m.Cancel(context.Background(), userID, pay.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusCancelled, f.store.payments[pay.ID].Status)
	assert.Equal(t, []uuid.UUID{pay.ID}, f.usages.deleted)
	assert.Equal(t, []string{pay.OrderID}, f.sessions.deleted)
}

func TestCancelWithoutCouponSkipsUsage(t *testing.T) {
	userID := uuid.New()
	pay := completedPayment(userID, uuid.New())
	pay.Status = models.PaymentStatusPending
	f := newManagerFixture(newLifecycleStore(pay))

	err := f.m.Cancel(context.Background(), userID, pay.ID)
	require.NoError(t, err)
	assert.Empty(t, f.usages.deleted)
}

func TestCancelOnlyPending(t *testing.T) {
	userID := uuid.New()
	pay := completedPayment(userID, uuid.New())
	f := newManagerFixture(newLifecycleStore(pay))

	err := f.m.Cancel(context.Background(), userID, pay.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.Equal(t, models.PaymentStatusCompleted, f.store.payments[pay.ID].Status)
}

func TestCancelNotOwner(t *testing.T) {
	pay := completedPayment(uuid.New(), uuid.New())
	pay.Status = models.PaymentStatusPending
	f := newManagerFixture(newLifecycleStore(pay))

	err := f.m.Cancel(context.Background(), uuid.New(), pay.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}
