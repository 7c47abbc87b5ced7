package checkout

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/coupons"
	"github.com/learnhub/backend/internal/gateway"
	"github.com/learnhub/backend/internal/middleware"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/response"
)

// InitiateBody is the body for POST /checkout.
type InitiateBody struct {
	CourseIDs      []uuid.UUID            `json:"course_ids" binding:"required"`
	Gateway        string                 `json:"gateway" binding:"required"`
	CouponCode     string                 `json:"coupon_code"`
	BillingAddress *models.BillingAddress `json:"billing_address"`
}

// Handler handles POST /checkout.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a checkout handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Initiate handles POST /checkout.
func (h *Handler) Initiate(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var body InitiateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.service.Initiate(c.Request.Context(), InitiateRequest{
		UserID:         userID,
		CourseIDs:      body.CourseIDs,
		Gateway:        body.Gateway,
		CouponCode:     body.CouponCode,
		BillingAddress: body.BillingAddress,
	})
	if err != nil {
		h.initiateError(c, err)
		return
	}
	response.Created(c, res)
}

func (h *Handler) initiateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, gateway.ErrUnknownGateway):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrCourseUnavailable):
		response.UnprocessableEntity(c, "one or more courses are unavailable")
	case errors.Is(err, ErrAlreadyEnrolled):
		response.Conflict(c, err.Error())
	case errors.Is(err, coupons.ErrCouponInvalid),
		errors.Is(err, coupons.ErrCouponExhausted),
		errors.Is(err, coupons.ErrCouponAlreadyUsed),
		errors.Is(err, coupons.ErrCouponMinimumNotMet),
		errors.Is(err, coupons.ErrCouponNotApplicable):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		response.ServiceUnavailable(c, "payment provider unavailable")
	case errors.Is(err, gateway.ErrRejected):
		response.BadRequest(c, "payment provider rejected the order")
	default:
		h.logger.Error("checkout failed", zap.Error(err))
		response.Internal(c, "failed to initiate checkout")
	}
}
