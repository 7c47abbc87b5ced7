package notifications

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/models"
)

// Notifier writes in-app notifications. Failures are logged and swallowed so
// a notification hiccup never fails the surrounding operation.
type Notifier struct {
	repo   *Repository
	logger *zap.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(repo *Repository, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{repo: repo, logger: logger}
}

// Notify writes one notification for the user. payload may be nil.
func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, typ, title, message string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			n.logger.Warn("marshal notification payload failed", zap.Error(err), zap.String("type", typ))
		} else {
			raw = b
		}
	}
	notif := &models.Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Payload: raw,
	}
	if err := n.repo.Create(ctx, notif); err != nil {
		n.logger.Warn("create notification failed",
			zap.Error(err),
			zap.String("type", typ),
			zap.String("user_id", userID.String()))
	}
}
