package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification events. OTP-class events carry a time-boxed secret keyed by
// (order_item, event); regenerating for the same pair always invalidates the
// previous code.
const (
	EventDeliveryHandoff = "delivery_handoff"
	EventReturnPickup    = "return_pickup"

	EventOrderPlaced     = "order_placed"
	EventOrderPaid       = "order_paid"
	EventOrderCancelled  = "order_cancelled"
	EventItemDelivered   = "item_delivered"
	EventReturnRequested = "return_requested"
	EventReturnResolved  = "return_resolved"
	EventRefundFinalized = "refund_finalized"
)

// OTP states for a (order_item, event) pair.
const (
	OTPIssued   = "issued"
	OTPVerified = "verified"
	OTPExpired  = "expired"
)

// Notification delivery statuses. Dispatch is best-effort and tracked apart
// from OTP validity: a failed send never invalidates a still-valid code.
const (
	DispatchPending = "pending"
	DispatchSent    = "sent"
	DispatchFailed  = "failed"
)

type Notification struct {
	BaseModel
	UserID      uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	OrderID     *uuid.UUID `gorm:"type:uuid;index" json:"order_id"`
	OrderItemID *uuid.UUID `gorm:"type:uuid;index" json:"order_item_id"`
	Event       string     `gorm:"index" json:"event"`
	Channel     string     `json:"channel"`
	Payload     string     `json:"payload"`

	OTPSecret    string     `json:"-"`
	OTPPeriod    uint       `json:"-"`
	OTPExpiresAt *time.Time `json:"otp_expires_at"`
	OTPVerified  bool       `json:"otp_verified"`
	OTPStatus    string     `json:"otp_status"`

	DeliveryStatus string `gorm:"default:pending" json:"delivery_status"`
	Retries        int    `json:"retries"`
}
