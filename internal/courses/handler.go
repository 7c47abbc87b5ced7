package courses

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/middleware"
	"github.com/learnhub/backend/internal/models"
	"github.com/learnhub/backend/pkg/response"
)

// Handler serves the public course catalog.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a courses handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /courses.
func (h *Handler) List(c *gin.Context) {
	courses, err := h.repo.ListPublished(c.Request.Context())
	if err != nil {
		h.logger.Error("list courses failed", zap.Error(err))
		response.Internal(c, "failed to list courses")
		return
	}
	response.OK(c, courses)
}

// CreateBody is the instructor course-creation request.
type CreateBody struct {
	Title         string   `json:"title" binding:"required"`
	Description   string   `json:"description"`
	Price         float64  `json:"price" binding:"required,gt=0"`
	DiscountPrice *float64 `json:"discount_price"`
	Published     bool     `json:"published"`
}

// Create handles POST /courses (instructor or admin).
func (h *Handler) Create(c *gin.Context) {
	var body CreateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if body.DiscountPrice != nil && (*body.DiscountPrice <= 0 || *body.DiscountPrice >= body.Price) {
		response.BadRequest(c, "discount_price must be positive and below price")
		return
	}
	instructorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	course := &models.Course{
		InstructorID:  instructorID,
		Title:         body.Title,
		Description:   body.Description,
		Price:         body.Price,
		DiscountPrice: body.DiscountPrice,
		Published:     body.Published,
	}
	if err := h.repo.Create(c.Request.Context(), course); err != nil {
		h.logger.Error("create course failed", zap.Error(err))
		response.Internal(c, "failed to create course")
		return
	}
	response.Created(c, course)
}

// Get handles GET /courses/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	course, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("get course failed", zap.Error(err), zap.String("course_id", id.String()))
		response.Internal(c, "failed to get course")
		return
	}
	if course == nil || !course.Published {
		response.NotFound(c, "course not found")
		return
	}
	response.OK(c, course)
}
