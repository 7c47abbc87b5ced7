package cart

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/courses"
	"github.com/learnhub/backend/internal/middleware"
	"github.com/learnhub/backend/pkg/response"
)

// AddRequest is the body for POST /cart.
type AddRequest struct {
	CourseID uuid.UUID `json:"course_id" binding:"required"`
}

// Handler handles cart HTTP endpoints.
type Handler struct {
	repo    *Repository
	courses *courses.Repository
	logger  *zap.Logger
}

// NewHandler creates a cart handler.
func NewHandler(repo *Repository, coursesRepo *courses.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, courses: coursesRepo, logger: logger}
}

// List handles GET /cart.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	items, err := h.repo.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list cart failed", zap.Error(err))
		response.Internal(c, "failed to list cart")
		return
	}
	response.OK(c, items)
}

// Add handles POST /cart.
func (h *Handler) Add(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	course, err := h.courses.GetByID(c.Request.Context(), req.CourseID)
	if err != nil {
		h.logger.Error("get course failed", zap.Error(err))
		response.Internal(c, "failed to add to cart")
		return
	}
	if course == nil || !course.Published {
		response.NotFound(c, "course not found")
		return
	}
	if err := h.repo.Add(c.Request.Context(), userID, req.CourseID); err != nil {
		h.logger.Error("add cart item failed", zap.Error(err))
		response.Internal(c, "failed to add to cart")
		return
	}
	response.Created(c, gin.H{"course_id": req.CourseID})
}

// Remove handles DELETE /cart/:courseID.
func (h *Handler) Remove(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	courseID, err := uuid.Parse(c.Param("courseID"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	if err := h.repo.Remove(c.Request.Context(), userID, courseID); err != nil {
		h.logger.Error("remove cart item failed", zap.Error(err))
		response.Internal(c, "failed to remove from cart")
		return
	}
	response.NoContent(c)
}
