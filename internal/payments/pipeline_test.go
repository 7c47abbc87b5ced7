package payments

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/queue"
)

type fakeStore struct {
	payment       *models.Payment
	completeMoves bool
	completeRaces bool
	failMoves     bool
	completed     bool
	failed        bool
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if f.payment == nil || f.payment.ID != id {
		return nil, ErrNotFound
	}
	cp := *f.payment
	return &cp, nil
}

func (f *fakeStore) MarkCompleted(ctx context.Context, id uuid.UUID, transactionID, method string, gatewayResponse json.RawMessage) (bool, error) {
	if !f.completeMoves {
		if f.completeRaces {
			// A concurrent verify won the compare-and-set.
			f.payment.Status = models.PaymentStatusCompleted
		}
		return false, nil
	}
	f.completed = true
	f.payment.Status = models.PaymentStatusCompleted
	f.payment.TransactionID = transactionID
	f.payment.Method = method
	return true, nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	if !f.failMoves {
		return false, nil
	}
	f.failed = true
	f.payment.Status = models.PaymentStatusFailed
	return true, nil
}

type fakeSessions struct {
	session *Session
}

func (f *fakeSessions) Get(ctx context.Context, orderID string) (*Session, error) {
	if f.session == nil {
		return nil, ErrSessionInvalid
	}
	return f.session, nil
}

type fakeVerifyGateway struct {
	verified  bool
	verifyErr error
	info      *gateway.PaymentInfo
	fetchErr  error
}

func (f *fakeVerifyGateway) Name() string { return "razorpay" }

func (f *fakeVerifyGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	return nil, nil
}

func (f *fakeVerifyGateway) VerifyCompletion(ctx context.Context, ev gateway.Evidence) (bool, error) {
	return f.verified, f.verifyErr
}

func (f *fakeVerifyGateway) FetchSettledDetails(ctx context.Context, externalID string) (*gateway.PaymentInfo, error) {
	return f.info, f.fetchErr
}

func (f *fakeVerifyGateway) CreateRefund(ctx context.Context, ref gateway.RefundRef, amount float64, note string) (*gateway.RefundInfo, error) {
	return nil, nil
}

type fakeGatewayRegistry struct {
	gw gateway.Gateway
}

func (f *fakeGatewayRegistry) Get(name string) (gateway.Gateway, error) {
	if f.gw == nil {
		return nil, gateway.ErrUnknownGateway
	}
	return f.gw, nil
}

type fakeJobs struct {
	enqueued []queue.FulfillmentPayload
	err      error
}

func (f *fakeJobs) EnqueueFulfillment(ctx context.Context, payload queue.FulfillmentPayload) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func pendingPayment(userID uuid.UUID) *models.Payment {
	return &models.Payment{
		ID:             uuid.New(),
		UserID:         userID,
		OrderID:        "ord_1",
		Gateway:        "razorpay",
		GatewayOrderID: "rzp_order_1",
		Status:         models.PaymentStatusPending,
		Amount:         1180,
	}
}

func newPipeline(store *fakeStore, sess *fakeSessions, gw gateway.Gateway, jobs *fakeJobs) *Pipeline {
	return NewPipeline(store, sess, &fakeGatewayRegistry{gw: gw}, jobs, nil)
}

func TestVerifyCompletesAndEnqueues(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	store := &fakeStore{payment: pay, completeMoves: true}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID, GatewayOrderID: pay.GatewayOrderID}}
	gw := &fakeVerifyGateway{verified: true, info: &gateway.PaymentInfo{TransactionID: "pay_abc", Method: "upi"}}
	jobs := &fakeJobs{}

	res, err := newPipeline(store, sess, gw, jobs).Verify(context.Background(), "ord_1", userID, gateway.Evidence{})
	require.NoError(t, err)

	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, models.PaymentStatusCompleted, res.Payment.Status)
	assert.Equal(t, "pay_abc", res.Payment.TransactionID)
	assert.Equal(t, "upi", res.Payment.Method)
	require.Len(t, jobs.enqueued, 1)
	assert.Equal(t, pay.ID, jobs.enqueued[0].PaymentID)
}

func TestVerifyDuplicateShortCircuits(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	pay.Status = models.PaymentStatusCompleted
	store := &fakeStore{payment: pay}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID}}
	gw := &fakeVerifyGateway{}
	jobs := &fakeJobs{}

	res, err := newPipeline(store, sess, gw, jobs).Verify(context.Background(), "ord_1", userID, gateway.Evidence{})
	require.NoError(t, err)

	assert.True(t, res.AlreadyProcessed)
	assert.Empty(t, jobs.enqueued)
}

func TestVerifyWrongCaller(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	store := &fakeStore{payment: pay}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID}}

	_, err := newPipeline(store, sess, &fakeVerifyGateway{}, &fakeJobs{}).
		Verify(context.Background(), "ord_1", uuid.New(), gateway.Evidence{})
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestVerifyCallbackCallerSkipsOwnerCheck(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	store := &fakeStore{payment: pay, completeMoves: true}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID, GatewayOrderID: pay.GatewayOrderID}}
	gw := &fakeVerifyGateway{verified: true, info: &gateway.PaymentInfo{TransactionID: "pay_abc", Method: "card"}}

	res, err := newPipeline(store, sess, gw, &fakeJobs{}).
		Verify(context.Background(), "ord_1", uuid.Nil, gateway.Evidence{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Payment.Status)
}

func TestVerifyMissingSession(t *testing.T) {
	_, err := newPipeline(&fakeStore{}, &fakeSessions{}, &fakeVerifyGateway{}, &fakeJobs{}).
		Verify(context.Background(), "ord_1", uuid.New(), gateway.Evidence{})
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestVerifyFalseVerdictFailsPayment(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	store := &fakeStore{payment: pay, failMoves: true}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID}}
	gw := &fakeVerifyGateway{verified: false}

	_, err := newPipeline(store, sess, gw, &fakeJobs{}).
		Verify(context.Background(), "ord_1", userID, gateway.Evidence{})
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.True(t, store.failed)
}

func TestVerifyTransportErrorLeavesPending(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	store := &fakeStore{payment: pay}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID}}
	gw := &fakeVerifyGateway{verifyErr: gateway.ErrUnavailable}

	_, err := newPipeline(store, sess, gw, &fakeJobs{}).
		Verify(context.Background(), "ord_1", userID, gateway.Evidence{})
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
	assert.Equal(t, models.PaymentStatusPending, store.payment.Status)
	assert.False(t, store.failed)
}

func TestVerifyLostCompletionRace(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	// Compare-and-set refuses to move, and the re-read sees the payment
	// completed by a concurrent call.
	store := &fakeStore{payment: pay, completeRaces: true}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID}}
	gw := &fakeVerifyGateway{verified: true, info: &gateway.PaymentInfo{TransactionID: "pay_abc", Method: "card"}}
	jobs := &fakeJobs{}

	res, err := newPipeline(store, sess, gw, jobs).
		Verify(context.Background(), "ord_1", userID, gateway.Evidence{})
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Empty(t, jobs.enqueued)
}

func TestVerifyEnqueueFailureStillSucceeds(t *testing.T) {
	userID := uuid.New()
	pay := pendingPayment(userID)
	store := &fakeStore{payment: pay, completeMoves: true}
	sess := &fakeSessions{session: &Session{PaymentID: pay.ID, UserID: userID}}
	gw := &fakeVerifyGateway{verified: true, info: &gateway.PaymentInfo{TransactionID: "pay_abc", Method: "card"}}
	jobs := &fakeJobs{err: assert.AnError}

	res, err := newPipeline(store, sess, gw, jobs).
		Verify(context.Background(), "ord_1", userID, gateway.Evidence{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, res.Payment.Status)
}
