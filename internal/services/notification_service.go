package services

import (
	"context"
	"log"

	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
)

// NotificationService persists notification rows and pushes them through the
// configured channel. Dispatch is best-effort: a send failure is recorded on
// the row and never fails the operation that emitted the event.
type NotificationService struct {
	db      *gorm.DB
	channel NotificationChannel
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(db *gorm.DB, channel NotificationChannel) *NotificationService {
	return &NotificationService{db: db, channel: channel}
}

// DispatchEvents records and sends one notification per emitted domain event.
func (s *NotificationService) DispatchEvents(ctx context.Context, events []Event) {
	for _, event := range events {
		n := models.Notification{
			UserID:      event.UserID,
			OrderID:     event.OrderID,
			OrderItemID: event.OrderItemID,
			Event:       event.Kind,
			Channel:     "telegram",
			Payload:     event.Message,
		}
		if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
			log.Printf("[Notify] Failed to record %s notification: %v", event.Kind, err)
			continue
		}
		s.Dispatch(ctx, &n, event.Message)
	}
}

// Dispatch attempts delivery of a notification row and records the outcome.
// OTP validity is tracked separately and is never touched here.
func (s *NotificationService) Dispatch(ctx context.Context, n *models.Notification, text string) {
	var email, phone string
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", n.UserID).Error; err == nil {
		email = user.Email
		phone = user.Phone
	}

	status := models.DispatchSent
	if err := s.channel.Send(ctx, email, phone, text); err != nil {
		log.Printf("[Notify] Dispatch of %s failed: %v", n.Event, err)
		status = models.DispatchFailed
	}

	if err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", n.ID).
		Updates(map[string]any{
			"delivery_status": status,
			"retries":         gorm.Expr("retries + 1"),
		}).Error; err != nil {
		log.Printf("[Notify] Failed to update dispatch status for %s: %v", n.ID, err)
	}
}
