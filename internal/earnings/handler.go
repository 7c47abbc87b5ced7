package earnings

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/middleware"
	"github.com/learnhub/backend/pkg/response"
)

// Handler serves an instructor's earnings.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an earnings handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListMine handles GET /me/earnings (instructor).
func (h *Handler) ListMine(c *gin.Context) {
	instructorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListByInstructor(c.Request.Context(), instructorID)
	if err != nil {
		h.logger.Error("list earnings failed", zap.Error(err))
		response.Internal(c, "failed to list earnings")
		return
	}
	response.OK(c, list)
}
