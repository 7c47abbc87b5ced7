package emaillogs

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/pkg/response"
)

// Handler exposes email delivery history to admins.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an email logs handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListByPayment handles GET /payments/:id/emails (admin).
func (h *Handler) ListByPayment(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	logs, err := h.repo.ListByPayment(c.Request.Context(), paymentID)
	if err != nil {
		h.logger.Error("list email logs failed", zap.Error(err), zap.String("payment_id", paymentID.String()))
		response.Internal(c, "failed to list email logs")
		return
	}
	response.OK(c, logs)
}
