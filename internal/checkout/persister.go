package checkout

import (
	"context"

	"github.com/google/uuid"

	"github.com/learnhub/backend/internal/coupons"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/internal/payments"
)

// TxPersister writes the pending payment and coupon usage in one pgx
// transaction.
type TxPersister struct {
	payments *payments.Repository
	coupons  *coupons.Repository
}

// NewTxPersister creates the transactional checkout persister.
func NewTxPersister(paymentsRepo *payments.Repository, couponsRepo *coupons.Repository) *TxPersister {
	return &TxPersister{payments: paymentsRepo, coupons: couponsRepo}
}

// PersistCheckout inserts the payment and, when usage is non-nil, the coupon
// usage plus its used_count increment, atomically. A concurrent usage of the
// same coupon by the same user rolls everything back with
// coupons.ErrCouponAlreadyUsed.
func (t *TxPersister) PersistCheckout(ctx context.Context, p *models.Payment, usage *models.CouponUsage) error {
	tx, err := t.payments.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := t.payments.CreateTx(ctx, tx, p); err != nil {
		return err
	}
	if usage != nil {
		usage.PaymentID = p.ID
		if err := t.coupons.CreateUsageTx(ctx, tx, usage); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CancelCheckout backs out a persisted checkout whose session could not be
// stored: the payment moves to cancelled and any coupon usage is deleted with
// its used_count restored, in one transaction.
func (t *TxPersister) CancelCheckout(ctx context.Context, paymentID uuid.UUID) error {
	tx, err := t.payments.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := t.payments.MarkCancelledTx(ctx, tx, paymentID); err != nil {
		return err
	}
	if err := t.coupons.DeleteUsageByPaymentTx(ctx, tx, paymentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
