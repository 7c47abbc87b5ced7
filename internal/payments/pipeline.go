package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/metrics"
	"github.com/learnhub/backend/pkg/queue"
)

// ErrVerificationFailed is returned when provider evidence does not verify;
// the payment has moved to failed and a new order is required.
var ErrVerificationFailed = errors.New("payment verification failed")

// Store is the payment persistence the pipeline and manager need.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, transactionID, method string, gatewayResponse json.RawMessage) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

// Sessions is the checkout session lookup the pipeline needs.
type Sessions interface {
	Get(ctx context.Context, orderID string) (*Session, error)
}

// Registry resolves gateways by name.
type Registry interface {
	Get(name string) (gateway.Gateway, error)
}

// FulfillmentQueue hands completed payments to the background worker.
type FulfillmentQueue interface {
	EnqueueFulfillment(ctx context.Context, payload queue.FulfillmentPayload) error
}

// VerifyResult is the outcome of a verification attempt.
type VerifyResult struct {
	Payment *models.Payment
	// AlreadyProcessed reports that the payment was completed before this
	// call; duplicate callbacks land here.
	AlreadyProcessed bool
}

// Pipeline drives a payment from provider evidence to a durable completed
// state. Duplicate and concurrent calls are safe: the pending-to-completed
// transition is a single conditional update, and fulfillment is idempotent
// and deferred to the worker.
type Pipeline struct {
	store    Store
	sessions Sessions
	registry Registry
	jobs     FulfillmentQueue
	logger   *zap.Logger
}

// NewPipeline creates a verification pipeline.
func NewPipeline(store Store, sessions Sessions, registry Registry, jobs FulfillmentQueue, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, sessions: sessions, registry: registry, jobs: jobs, logger: logger}
}

// Verify validates provider evidence for an order and completes its payment.
// callerID is the authenticated user, or uuid.Nil for provider callbacks,
// which are trusted only as far as the session and the evidence verify.
// Gateway transport errors are returned as-is; the payment stays pending and
// the exact same call can be retried.
func (p *Pipeline) Verify(ctx context.Context, orderID string, callerID uuid.UUID, ev gateway.Evidence) (*VerifyResult, error) {
	sess, err := p.sessions.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerID != uuid.Nil && callerID != sess.UserID {
		return nil, ErrSessionInvalid
	}

	pay, err := p.store.GetByID(ctx, sess.PaymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if pay.Status == models.PaymentStatusCompleted {
		return &VerifyResult{Payment: pay, AlreadyProcessed: true}, nil
	}
	if pay.Status != models.PaymentStatusPending {
		return nil, ErrVerificationFailed
	}

	gw, err := p.registry.Get(pay.Gateway)
	if err != nil {
		return nil, err
	}

	verified, err := gw.VerifyCompletion(ctx, ev)
	if err != nil {
		// Transport failure or missing configuration: not a verdict. The
		// payment stays pending and the caller retries.
		return nil, err
	}
	if !verified {
		if err := p.fail(ctx, pay); err != nil {
			return nil, err
		}
		// Lost the race to a concurrent successful verify.
		return p.reload(ctx, pay.ID)
	}

	info, err := gw.FetchSettledDetails(ctx, pay.GatewayOrderID)
	if err != nil {
		return nil, err
	}

	moved, err := p.store.MarkCompleted(ctx, pay.ID, info.TransactionID, info.Method, info.Raw)
	if err != nil {
		return nil, err
	}
	if !moved {
		return p.reload(ctx, pay.ID)
	}
	metrics.PaymentsCompletedTotal.WithLabelValues(pay.Gateway).Inc()
	p.logger.Info("payment completed",
		zap.String("payment_id", pay.ID.String()),
		zap.String("order_id", pay.OrderID),
		zap.String("gateway", pay.Gateway),
		zap.String("transaction_id", info.TransactionID))

	// Completion is durable; fulfillment runs at-least-once in the worker.
	// An enqueue failure leaves a completed payment that reconciliation can
	// pick up, never a stuck pending one.
	if err := p.jobs.EnqueueFulfillment(ctx, queue.FulfillmentPayload{PaymentID: pay.ID, OrderID: pay.OrderID}); err != nil {
		p.logger.Error("enqueue fulfillment failed",
			zap.Error(err), zap.String("payment_id", pay.ID.String()))
	}

	pay.Status = models.PaymentStatusCompleted
	pay.TransactionID = info.TransactionID
	pay.Method = info.Method
	if len(info.Raw) > 0 {
		pay.GatewayResponse = info.Raw
	}
	pay.UpdatedAt = time.Now()
	return &VerifyResult{Payment: pay}, nil
}

// fail moves the payment to failed unless a concurrent call already settled
// it, and reports the verification verdict to the caller.
func (p *Pipeline) fail(ctx context.Context, pay *models.Payment) error {
	moved, err := p.store.MarkFailed(ctx, pay.ID)
	if err != nil {
		return err
	}
	if !moved {
		cur, err := p.store.GetByID(ctx, pay.ID)
		if err == nil && cur.Status == models.PaymentStatusCompleted {
			// Lost the race to a successful verify; nothing failed.
			return nil
		}
	} else {
		metrics.PaymentsFailedTotal.WithLabelValues(pay.Gateway).Inc()
		p.logger.Warn("payment verification failed",
			zap.String("payment_id", pay.ID.String()),
			zap.String("gateway", pay.Gateway))
	}
	return ErrVerificationFailed
}

// reload resolves a lost compare-and-set race by re-reading the payment.
func (p *Pipeline) reload(ctx context.Context, id uuid.UUID) (*VerifyResult, error) {
	cur, err := p.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == models.PaymentStatusCompleted {
		return &VerifyResult{Payment: cur, AlreadyProcessed: true}, nil
	}
	return nil, ErrVerificationFailed
}
