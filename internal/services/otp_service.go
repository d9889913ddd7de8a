package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
)

// OTPService issues and verifies time-boxed one-time codes for delivery
// handoff and return pickup confirmation. One code exists per
// (order_item, event) pair; regenerating always replaces the secret, so a
// previously issued code can never validate again.
type OTPService struct {
	db       *gorm.DB
	ttl      time.Duration
	notifier *NotificationService
	now      func() time.Time
}

// NewOTPService constructs OTPService. ttl bounds both the code period and
// the hard expiry stamped on the notification row.
func NewOTPService(db *gorm.DB, ttl time.Duration, notifier *NotificationService) *OTPService {
	return &OTPService{db: db, ttl: ttl, notifier: notifier, now: time.Now}
}

func (s *OTPService) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(s.ttl.Seconds()),
		Skew:      1, // one window of clock-skew tolerance
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Generate creates a fresh code for the (order_item, event) pair and
// dispatches it to the item's customer. Generation always succeeds or fails
// deterministically before any dispatch attempt; a failed send leaves the
// code valid.
func (s *OTPService) Generate(ctx context.Context, itemID uuid.UUID, event string) (*models.Notification, string, error) {
	if event != models.EventDeliveryHandoff && event != models.EventReturnPickup {
		return nil, "", models.Validationf("event %s does not carry an otp", event)
	}

	var item models.OrderItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", models.ErrNotFound
		}
		return nil, "", fmt.Errorf("otp.Generate: %w", err)
	}
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", item.OrderID).Error; err != nil {
		return nil, "", fmt.Errorf("otp.Generate: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "fulfillment",
		AccountName: item.ID.String(),
		Period:      uint(s.ttl.Seconds()),
	})
	if err != nil {
		return nil, "", fmt.Errorf("otp.Generate: %w", err)
	}

	expiresAt := s.now().Add(s.ttl)
	var row models.Notification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("order_item_id = ? AND event = ?", itemID, event).First(&row).Error
		switch {
		case err == nil:
			// Regeneration invalidates the prior code: new secret, new expiry.
			return tx.Model(&models.Notification{}).Where("id = ?", row.ID).
				Updates(map[string]any{
					"otp_secret":      key.Secret(),
					"otp_period":      uint(s.ttl.Seconds()),
					"otp_expires_at":  expiresAt,
					"otp_verified":    false,
					"otp_status":      models.OTPIssued,
					"delivery_status": models.DispatchPending,
				}).Error
		case err == gorm.ErrRecordNotFound:
			row = models.Notification{
				UserID:       order.UserID,
				OrderID:      &order.ID,
				OrderItemID:  &item.ID,
				Event:        event,
				Channel:      "telegram",
				OTPSecret:    key.Secret(),
				OTPPeriod:    uint(s.ttl.Seconds()),
				OTPExpiresAt: &expiresAt,
				OTPStatus:    models.OTPIssued,
			}
			return tx.Create(&row).Error
		default:
			return fmt.Errorf("otp.Generate: %w", err)
		}
	})
	if err != nil {
		return nil, "", err
	}

	// Reload so the returned row reflects the regenerated secret/expiry.
	if err := s.db.WithContext(ctx).First(&row, "id = ?", row.ID).Error; err != nil {
		return nil, "", fmt.Errorf("otp.Generate: %w", err)
	}

	code, err := totp.GenerateCodeCustom(row.OTPSecret, s.now(), s.validateOpts())
	if err != nil {
		return nil, "", fmt.Errorf("otp.Generate: %w", err)
	}

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, &row, fmt.Sprintf("Your confirmation code for order %s is %s", order.OrderNumber, code))
	}

	return &row, code, nil
}

// Verify checks a code against the current secret for the pair. It fails
// closed: missing secret, consumed expiry or a stale window all reject.
// Re-verifying an already-verified valid code is a no-op success so client
// retries are tolerated.
func (s *OTPService) Verify(ctx context.Context, itemID uuid.UUID, event, code string) error {
	var row models.Notification
	err := s.db.WithContext(ctx).
		Where("order_item_id = ? AND event = ?", itemID, event).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return models.ErrOTPInvalid
		}
		return fmt.Errorf("otp.Verify: %w", err)
	}

	if row.OTPSecret == "" {
		return models.ErrOTPInvalid
	}
	if row.OTPVerified {
		// Idempotent success on retry, even after the code's window has
		// rolled over or the row has expired since.
		return nil
	}
	if row.OTPStatus == models.OTPExpired {
		return models.ErrOTPExpired
	}

	now := s.now()
	if row.OTPExpiresAt != nil && now.After(*row.OTPExpiresAt) {
		// First expiry check wins; once flipped the code never validates again.
		if err := s.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ? AND otp_status <> ?", row.ID, models.OTPExpired).
			Update("otp_status", models.OTPExpired).Error; err != nil {
			log.Printf("[OTP] Failed to expire code for item %s: %v", itemID, err)
		}
		return models.ErrOTPExpired
	}

	valid, err := totp.ValidateCustom(code, row.OTPSecret, now, s.validateOpts())
	if err != nil || !valid {
		return models.ErrOTPInvalid
	}

	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND otp_status = ?", row.ID, models.OTPIssued).
		Updates(map[string]any{"otp_verified": true, "otp_status": models.OTPVerified})
	if res.Error != nil {
		return fmt.Errorf("otp.Verify: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost the race: either verified concurrently (fine) or expired.
		var fresh models.Notification
		if err := s.db.WithContext(ctx).First(&fresh, "id = ?", row.ID).Error; err == nil && fresh.OTPVerified {
			return nil
		}
		return models.ErrOTPExpired
	}
	return nil
}

// IsVerified reports whether the pair's current code has been consumed.
func (s *OTPService) IsVerified(ctx context.Context, itemID uuid.UUID, event string) (bool, error) {
	var row models.Notification
	err := s.db.WithContext(ctx).
		Where("order_item_id = ? AND event = ?", itemID, event).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("otp.IsVerified: %w", err)
	}
	return row.OTPVerified && row.OTPStatus == models.OTPVerified, nil
}
