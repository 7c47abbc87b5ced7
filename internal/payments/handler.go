package payments

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/middleware"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/response"
)

// VerifyRequest is the body for POST /payments/verify.
type VerifyRequest struct {
	OrderID  string           `json:"order_id" binding:"required"`
	Evidence gateway.Evidence `json:"evidence"`
}

// RetryRequest is the body for POST /payments/:id/retry.
type RetryRequest struct {
	Gateway string `json:"gateway"` // optional, defaults to the failed payment's gateway
}

// RefundRequestBody is the body for POST /payments/:id/refund-request.
type RefundRequestBody struct {
	Reason string `json:"reason" binding:"required"`
}

// RefundDecisionRequest is the body for POST /payments/:id/refund-decision.
type RefundDecisionRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// Handler handles payment HTTP endpoints.
type Handler struct {
	repo     *Repository
	pipeline *Pipeline
	manager  *Manager
	logger   *zap.Logger
}

// NewHandler creates a payments handler.
func NewHandler(repo *Repository, pipeline *Pipeline, manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, pipeline: pipeline, manager: manager, logger: logger}
}

// Verify handles POST /payments/verify: the authenticated client reports
// provider evidence after completing the payment flow.
func (h *Handler) Verify(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.pipeline.Verify(c.Request.Context(), req.OrderID, userID, req.Evidence)
	if err != nil {
		h.verifyError(c, req.OrderID, err)
		return
	}
	if res.AlreadyProcessed {
		response.OKMessage(c, "payment already processed", res.Payment)
		return
	}
	response.OKMessage(c, "payment verified", res.Payment)
}

// Callback handles POST /payments/callback/:gateway: the provider's
// server-to-server or redirect callback. Unauthenticated; the checkout
// session plus the provider evidence are what gate it.
func (h *Handler) Callback(c *gin.Context) {
	gatewayName := c.Param("gateway")
	fields := callbackFields(c)
	orderID := c.Query("order_id")
	if orderID == "" {
		orderID = firstNonEmpty(fields["order_id"], fields["txnid"], fields["ORDERID"], fields["orderId"])
	}
	if orderID == "" {
		response.BadRequest(c, "missing order reference")
		return
	}
	ev := evidenceFromFields(gatewayName, fields)
	res, err := h.pipeline.Verify(c.Request.Context(), orderID, uuid.Nil, ev)
	if err != nil {
		h.verifyError(c, orderID, err)
		return
	}
	if res.AlreadyProcessed {
		response.OKMessage(c, "payment already processed", gin.H{"order_id": orderID, "status": res.Payment.Status})
		return
	}
	response.OKMessage(c, "payment verified", gin.H{"order_id": orderID, "status": res.Payment.Status})
}

func (h *Handler) verifyError(c *gin.Context, orderID string, err error) {
	switch {
	case errors.Is(err, ErrSessionInvalid):
		response.BadRequest(c, "invalid or expired checkout session")
	case errors.Is(err, ErrVerificationFailed):
		response.UnprocessableEntity(c, "payment verification failed")
	case errors.Is(err, gateway.ErrUnavailable):
		response.ServiceUnavailable(c, "payment provider unavailable, retry the same call")
	case errors.Is(err, gateway.ErrUnknownGateway):
		response.BadRequest(c, "unsupported payment gateway")
	default:
		h.logger.Error("verify payment failed", zap.Error(err), zap.String("order_id", orderID))
		response.Internal(c, "failed to verify payment")
	}
}

// List handles GET /payments.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list payments failed", zap.Error(err))
		response.Internal(c, "failed to list payments")
		return
	}
	response.OK(c, list)
}

// Get handles GET /payments/:id.
func (h *Handler) Get(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	pay, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "payment not found")
			return
		}
		h.logger.Error("get payment failed", zap.Error(err))
		response.Internal(c, "failed to get payment")
		return
	}
	if pay.UserID != userID && role != string(models.RoleAdmin) {
		response.Forbidden(c, "not your payment")
		return
	}
	response.OK(c, pay)
}

// Retry handles POST /payments/:id/retry.
func (h *Handler) Retry(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	var req RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	order, pay, err := h.manager.Retry(c.Request.Context(), userID, id, req.Gateway)
	if err != nil {
		h.managerError(c, id, err)
		return
	}
	response.Created(c, gin.H{"order": order, "payment": pay})
}

// Cancel handles POST /payments/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	if err := h.manager.Cancel(c.Request.Context(), userID, id); err != nil {
		h.managerError(c, id, err)
		return
	}
	response.OKMessage(c, "payment cancelled", nil)
}

// RequestRefund handles POST /payments/:id/refund-request.
func (h *Handler) RequestRefund(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	var req RefundRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	rr, err := h.manager.RequestRefund(c.Request.Context(), userID, id, req.Reason)
	if err != nil {
		h.managerError(c, id, err)
		return
	}
	response.Created(c, rr)
}

// RefundDecision handles POST /payments/:id/refund-decision (admin).
func (h *Handler) RefundDecision(c *gin.Context) {
	reviewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	var req RefundDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	pay, err := h.manager.ProcessRefund(c.Request.Context(), reviewerID, id, req.Approve, req.Note)
	if err != nil {
		h.managerError(c, id, err)
		return
	}
	response.OK(c, pay)
}

func (h *Handler) managerError(c *gin.Context, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "payment not found")
	case errors.Is(err, ErrNotOwner):
		response.Forbidden(c, "not your payment")
	case errors.Is(err, ErrNotRetryable), errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrRefundPending), errors.Is(err, ErrRefundAlreadyDone),
		errors.Is(err, ErrNoRefundRequest):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrRefundNotEligible), errors.Is(err, ErrRefundWindowExpired):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, gateway.ErrRefundRejected):
		response.UnprocessableEntity(c, "provider rejected the refund")
	case errors.Is(err, gateway.ErrUnavailable):
		response.ServiceUnavailable(c, "payment provider unavailable")
	case errors.Is(err, gateway.ErrUnknownGateway):
		response.BadRequest(c, "unsupported payment gateway")
	default:
		h.logger.Error("payment operation failed", zap.Error(err), zap.String("payment_id", id.String()))
		response.Internal(c, "payment operation failed")
	}
}

// callbackFields flattens posted form values and query parameters into one
// map; providers differ on where they put things.
func callbackFields(c *gin.Context) map[string]string {
	fields := make(map[string]string)
	_ = c.Request.ParseForm()
	for k, v := range c.Request.Form {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	for k, v := range c.Request.URL.Query() {
		if _, ok := fields[k]; !ok && len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields
}

// evidenceFromFields maps provider-specific callback field names onto the
// neutral evidence shape the adapters verify.
func evidenceFromFields(gatewayName string, f map[string]string) gateway.Evidence {
	switch gatewayName {
	case "razorpay":
		return gateway.Evidence{
			OrderID:   f["razorpay_order_id"],
			PaymentID: f["razorpay_payment_id"],
			Signature: f["razorpay_signature"],
			Fields:    f,
		}
	case "stripe":
		return gateway.Evidence{
			OrderID:   f["payment_intent"],
			PaymentID: f["payment_intent"],
			Fields:    f,
		}
	case "cashfree":
		return gateway.Evidence{
			OrderID: firstNonEmpty(f["cf_order_id"], f["order_id"]),
			Fields:  f,
		}
	case "payu":
		return gateway.Evidence{
			OrderID:   f["txnid"],
			PaymentID: f["mihpayid"],
			Signature: f["hash"],
			Fields:    f,
		}
	case "paytm":
		return gateway.Evidence{
			OrderID:   firstNonEmpty(f["ORDERID"], f["orderId"]),
			PaymentID: firstNonEmpty(f["TXNID"], f["txnId"]),
			Signature: firstNonEmpty(f["CHECKSUMHASH"], f["signature"]),
			Fields:    f,
		}
	default:
		return gateway.Evidence{
			OrderID:   f["order_id"],
			PaymentID: f["payment_id"],
			Signature: f["signature"],
			Fields:    f,
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
