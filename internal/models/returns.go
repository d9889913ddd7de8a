package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request statuses shared by returns and replacements.
const (
	RequestPending   = "pending"
	RequestShipped   = "shipped" // replacement only: pickup collected, new unit on its way
	RequestApproved  = "approved"
	RequestRejected  = "rejected"
	RequestRefunded  = "refunded"
	RequestCompleted = "completed"
)

// Pickup statuses.
const (
	PickupPending   = "pending"
	PickupCollected = "collected"
	PickupFailed    = "failed"
)

// Warehouse / admin decisions.
const (
	DecisionNone     = ""
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// ActiveRequestStatus reports whether a request still blocks the opposite
// kind on the same order item.
func ActiveRequestStatus(status string) bool {
	switch status {
	case RequestRejected, RequestRefunded, RequestCompleted:
		return false
	}
	return true
}

// ReturnRequest walks the four-stage pipeline: customer create, delivery
// agent pickup, warehouse inspection, admin resolution with refund.
type ReturnRequest struct {
	BaseModel
	OrderID     uuid.UUID  `gorm:"type:uuid;index" json:"order_id"`
	Order       *Order     `json:"order,omitempty"`
	OrderItemID uuid.UUID  `gorm:"type:uuid;index" json:"order_item_id"`
	OrderItem   *OrderItem `json:"order_item,omitempty"`
	UserID      uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	Reason      string     `json:"reason"`
	Status      string     `gorm:"default:pending" json:"status"`

	PickupStatus       string       `gorm:"default:pending" json:"pickup_status"`
	PickupVerifiedByID *uuid.UUID   `gorm:"type:uuid" json:"pickup_verified_by_id"`
	PickupVerifiedBy   *DeliveryMan `gorm:"foreignKey:PickupVerifiedByID" json:"pickup_verified_by,omitempty"`
	PickedUpAt         *time.Time   `json:"picked_up_at"`

	WarehouseDecision string     `json:"warehouse_decision"`
	InspectedAt       *time.Time `json:"inspected_at"`
	AdminDecision     string     `json:"admin_decision"`
	ResolvedAt        *time.Time `json:"resolved_at"`

	// Pro-rata refund: item price x qty plus the item's share of the order's
	// delivery charge, computed at creation.
	RefundAmount decimal.Decimal `gorm:"type:numeric(12,2)" json:"refund_amount"`
	PayeeUPI     string          `json:"payee_upi"`
	RefundState  `gorm:"embedded"`
}

// ReplacementRequest mirrors the return pipeline but resolves by lazily
// creating a zero-cost paid order instead of a refund.
type ReplacementRequest struct {
	BaseModel
	OrderID     uuid.UUID  `gorm:"type:uuid;index" json:"order_id"`
	Order       *Order     `json:"order,omitempty"`
	OrderItemID uuid.UUID  `gorm:"type:uuid;index" json:"order_item_id"`
	OrderItem   *OrderItem `json:"order_item,omitempty"`
	UserID      uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	Reason      string     `json:"reason"`
	Status      string     `gorm:"default:pending" json:"status"`

	PickupStatus       string       `gorm:"default:pending" json:"pickup_status"`
	PickupVerifiedByID *uuid.UUID   `gorm:"type:uuid" json:"pickup_verified_by_id"`
	PickupVerifiedBy   *DeliveryMan `gorm:"foreignKey:PickupVerifiedByID" json:"pickup_verified_by,omitempty"`
	PickedUpAt         *time.Time   `json:"picked_up_at"`

	WarehouseDecision string     `json:"warehouse_decision"`
	InspectedAt       *time.Time `json:"inspected_at"`
	AdminDecision     string     `json:"admin_decision"`
	ResolvedAt        *time.Time `json:"resolved_at"`

	NewOrderID *uuid.UUID `gorm:"type:uuid" json:"new_order_id"`
	NewOrder   *Order     `gorm:"foreignKey:NewOrderID" json:"new_order,omitempty"`
}
