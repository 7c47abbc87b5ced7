package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/backend/internal/coupons"
	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/internal/payments"
)

type fakeCatalog struct {
	courses []*models.Course
}

func (f *fakeCatalog) GetPublishedByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Course, error) {
	var out []*models.Course
	for _, c := range f.courses {
		for _, id := range ids {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type fakeEnrollments struct {
	enrolled map[uuid.UUID]bool
}

func (f *fakeEnrollments) HasActive(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	return f.enrolled[courseID], nil
}

type fakeEvaluator struct {
	result *coupons.Result
	err    error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, code string, userID uuid.UUID, courseIDs []uuid.UUID, subtotal float64) (*coupons.Result, error) {
	return f.result, f.err
}

type fakePersister struct {
	payment *models.Payment
	usage   *models.CouponUsage
	err     error
}

func (f *fakePersister) PersistCheckout(ctx context.Context, p *models.Payment, usage *models.CouponUsage) error {
	if f.err != nil {
		return f.err
	}
	p.ID = uuid.New()
	f.payment = p
	f.usage = usage
	return nil
}

func (f *fakePersister) CancelCheckout(ctx context.Context, paymentID uuid.UUID) error {
	if f.payment != nil && f.payment.ID == paymentID {
		f.payment.Status = models.PaymentStatusCancelled
		f.usage = nil
	}
	return nil
}

type fakeSessions struct {
	sessions map[string]*payments.Session
	err      error
}

func (f *fakeSessions) Put(ctx context.Context, orderID string, sess *payments.Session) error {
	if f.err != nil {
		return f.err
	}
	if f.sessions == nil {
		f.sessions = map[string]*payments.Session{}
	}
	f.sessions[orderID] = sess
	return nil
}

type fakeUsers struct {
	user *models.User
}

func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return f.user, nil
}

type fakeGateway struct {
	name      string
	order     *gateway.Order
	createErr error
	requests  []gateway.OrderRequest
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	f.requests = append(f.requests, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.order, nil
}

func (f *fakeGateway) VerifyCompletion(ctx context.Context, ev gateway.Evidence) (bool, error) {
	return false, nil
}

func (f *fakeGateway) FetchSettledDetails(ctx context.Context, externalID string) (*gateway.PaymentInfo, error) {
	return nil, nil
}

func (f *fakeGateway) CreateRefund(ctx context.Context, ref gateway.RefundRef, amount float64, note string) (*gateway.RefundInfo, error) {
	return nil, nil
}

type fakeRegistry struct {
	gw *fakeGateway
}

func (f *fakeRegistry) Get(name string) (gateway.Gateway, error) {
	if f.gw != nil && f.gw.name == name {
		return f.gw, nil
	}
	return nil, gateway.ErrUnknownGateway
}

func (f *fakeRegistry) Supported(name string) bool {
	return f.gw != nil && f.gw.name == name
}

type fixture struct {
	svc       *Service
	catalog   *fakeCatalog
	enrolled  *fakeEnrollments
	evaluator *fakeEvaluator
	persister *fakePersister
	sessions  *fakeSessions
	gw        *fakeGateway
}

func newFixture() *fixture {
	gw := &fakeGateway{
		name:  "razorpay",
		order: &gateway.Order{Gateway: "razorpay", ExternalID: "order_ext_1", Flow: gateway.FlowRedirect},
	}
	f := &fixture{
		catalog:   &fakeCatalog{},
		enrolled:  &fakeEnrollments{enrolled: map[uuid.UUID]bool{}},
		evaluator: &fakeEvaluator{},
		persister: &fakePersister{},
		sessions:  &fakeSessions{},
		gw:        gw,
	}
	f.svc = NewService(
		f.catalog, f.enrolled, f.evaluator, f.persister, f.sessions,
		&fakeUsers{user: &models.User{ID: uuid.New(), Email: "buyer@example.com", FullName: "Buyer"}},
		&fakeRegistry{gw: gw},
		Config{Currency: "INR", TaxRatePercent: 18, CallbackBase: "https://api.example.com/payments/callback"},
		nil,
	)
	return f
}

func course(price float64) *models.Course {
	return &models.Course{ID: uuid.New(), InstructorID: uuid.New(), Title: "Go Basics", Price: price, Published: true}
}

func TestInitiateBreakdown(t *testing.T) {
	f := newFixture()
	c1 := course(700)
	c2 := course(300)
	f.catalog.courses = []*models.Course{c1, c2}

	res, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID, c2.ID},
		Gateway:   "razorpay",
	})
	require.NoError(t, err)

	assert.Equal(t, 1000.0, res.Breakdown.Subtotal)
	assert.Equal(t, 0.0, res.Breakdown.Discount)
	assert.Equal(t, 180.0, res.Breakdown.Tax)
	assert.Equal(t, 1180.0, res.Breakdown.Total)
	assert.Equal(t, "INR", res.Breakdown.Currency)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, res.PaymentID, f.persister.payment.ID)

	sess := f.sessions.sessions[res.OrderID]
	require.NotNil(t, sess)
	assert.Equal(t, 1180.0, sess.FinalAmount)
	assert.Equal(t, "order_ext_1", sess.GatewayOrderID)
}

func TestInitiateWithCoupon(t *testing.T) {
	f := newFixture()
	c1 := course(1300)
	f.catalog.courses = []*models.Course{c1}
	coupon := &models.Coupon{ID: uuid.New(), Code: "SAVE10"}
	f.evaluator.result = &coupons.Result{Coupon: coupon, DiscountAmount: 100}

	res, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:     uuid.New(),
		CourseIDs:  []uuid.UUID{c1.ID},
		Gateway:    "razorpay",
		CouponCode: "SAVE10",
	})
	require.NoError(t, err)

	assert.Equal(t, 1300.0, res.Breakdown.Subtotal)
	assert.Equal(t, 100.0, res.Breakdown.Discount)
	assert.Equal(t, 216.0, res.Breakdown.Tax)
	assert.Equal(t, 1416.0, res.Breakdown.Total)
	assert.Equal(t, "SAVE10", res.Breakdown.CouponCode)

	require.NotNil(t, f.persister.usage)
	assert.Equal(t, coupon.ID, f.persister.usage.CouponID)
	assert.Equal(t, 100.0, f.persister.usage.DiscountAmount)
}

func TestInitiateDiscountPrice(t *testing.T) {
	f := newFixture()
	c1 := course(1000)
	dp := 800.0
	c1.DiscountPrice = &dp
	f.catalog.courses = []*models.Course{c1}

	res, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID},
		Gateway:   "razorpay",
	})
	require.NoError(t, err)
	assert.Equal(t, 800.0, res.Breakdown.Subtotal)
}

func TestInitiateDedupesCourses(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}

	res, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID, c1.ID},
		Gateway:   "razorpay",
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.Breakdown.Subtotal)
	assert.Len(t, f.persister.payment.OrderItems, 1)
}

func TestInitiateEmptyCart(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:  uuid.New(),
		Gateway: "razorpay",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInitiateUnknownGateway(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID},
		Gateway:   "square",
	})
	assert.ErrorIs(t, err, gateway.ErrUnknownGateway)
}

func TestInitiateUnpublishedCourse(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID, uuid.New()},
		Gateway:   "razorpay",
	})
	assert.ErrorIs(t, err, ErrCourseUnavailable)
	assert.Nil(t, f.persister.payment)
}

func TestInitiateAlreadyEnrolled(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}
	f.enrolled.enrolled[c1.ID] = true

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID},
		Gateway:   "razorpay",
	})
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestInitiateGatewayFailurePersistsNothing(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}
	f.gw.createErr = gateway.ErrUnavailable

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID},
		Gateway:   "razorpay",
	})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Nil(t, f.persister.payment)
	assert.Empty(t, f.sessions.sessions)
}

func TestInitiateCouponRejectionBeforeProvider(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}
	f.evaluator.err = coupons.ErrCouponExhausted

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:     uuid.New(),
		CourseIDs:  []uuid.UUID{c1.ID},
		Gateway:    "razorpay",
		CouponCode: "SAVE10",
	})
	assert.ErrorIs(t, err, coupons.ErrCouponExhausted)
	assert.Empty(t, f.gw.requests)
}

func TestInitiateCallbackURLCarriesOrderID(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}

	res, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID},
		Gateway:   "razorpay",
	})
	require.NoError(t, err)
	require.Len(t, f.gw.requests, 1)
	assert.Equal(t,
		"https://api.example.com/payments/callback/razorpay?order_id="+res.OrderID,
		f.gw.requests[0].ReturnURL)
}

func TestInitiateSessionFailureBacksOutCheckout(t *testing.T) {
	f := newFixture()
	c1 := course(1300)
	f.catalog.courses = []*models.Course{c1}
	coupon := &models.Coupon{ID: uuid.New(), Code: "SAVE10"}
	f.evaluator.result = &coupons.Result{Coupon: coupon, DiscountAmount: 100}
	f.sessions.err = errors.New("redis down")

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:     uuid.New(),
		CourseIDs:  []uuid.UUID{c1.ID},
		Gateway:    "razorpay",
		CouponCode: "SAVE10",
	})
	require.Error(t, err)

	// The committed payment is backed out and the single-use coupon freed.
	require.NotNil(t, f.persister.payment)
	assert.Equal(t, models.PaymentStatusCancelled, f.persister.payment.Status)
	assert.Nil(t, f.persister.usage)
}

func TestInitiatePersistFailure(t *testing.T) {
	f := newFixture()
	c1 := course(500)
	f.catalog.courses = []*models.Course{c1}
	f.persister.err = errors.New("boom")

	_, err := f.svc.Initiate(context.Background(), InitiateRequest{
		UserID:    uuid.New(),
		CourseIDs: []uuid.UUID{c1.ID},
		Gateway:   "razorpay",
	})
	assert.Error(t, err)
	assert.Empty(t, f.sessions.sessions)
}
