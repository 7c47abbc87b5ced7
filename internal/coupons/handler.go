package coupons

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/response"
)

// CreateRequest is the body for POST /coupons.
type CreateRequest struct {
	Code           string      `json:"code" binding:"required"`
	Type           string      `json:"type" binding:"required,oneof=percentage fixed"`
	Value          float64     `json:"value" binding:"required,gt=0"`
	MinOrderAmount float64     `json:"min_order_amount"`
	MaxDiscount    *float64    `json:"max_discount"`
	UsageLimit     int         `json:"usage_limit"`
	AppliesTo      string      `json:"applies_to" binding:"omitempty,oneof=all specific_courses"`
	CourseIDs      []uuid.UUID `json:"course_ids"`
	ValidFrom      *time.Time  `json:"valid_from"`
	ValidUntil     *time.Time  `json:"valid_until"`
}

// Handler handles coupon admin endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a coupons handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Create handles POST /coupons (admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	appliesTo := req.AppliesTo
	if appliesTo == "" {
		appliesTo = models.CouponAppliesAll
	}
	if appliesTo == models.CouponAppliesSpecificCourses && len(req.CourseIDs) == 0 {
		response.BadRequest(c, "course_ids required for specific_courses coupons")
		return
	}
	validFrom := time.Now()
	if req.ValidFrom != nil {
		validFrom = *req.ValidFrom
	}
	coupon := &models.Coupon{
		Code:           req.Code,
		Type:           req.Type,
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		MaxDiscount:    req.MaxDiscount,
		UsageLimit:     req.UsageLimit,
		AppliesTo:      appliesTo,
		CourseIDs:      req.CourseIDs,
		ValidFrom:      validFrom,
		ValidUntil:     req.ValidUntil,
		Active:         true,
	}
	if err := h.repo.Create(c.Request.Context(), coupon); err != nil {
		h.logger.Error("create coupon failed", zap.Error(err), zap.String("code", req.Code))
		response.Internal(c, "failed to create coupon")
		return
	}
	response.Created(c, coupon)
}

// List handles GET /coupons (admin).
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list coupons failed", zap.Error(err))
		response.Internal(c, "failed to list coupons")
		return
	}
	response.OK(c, list)
}
