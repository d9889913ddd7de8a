package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment rails.
const (
	PaymentCOD    = "cod"
	PaymentOnline = "online"
)

// Order statuses. The order status is derived from its items after every
// item transition, never set independently.
const (
	OrderPending        = "pending"
	OrderProcessing     = "processing"
	OrderShipped        = "shipped"
	OrderOutForDelivery = "out_for_delivery"
	OrderDelivered      = "delivered"
	OrderCancelled      = "cancelled"
)

// OrderItem statuses, strictly ordered along the fulfillment pipeline with
// explicit side branches.
const (
	ItemPending        = "pending"
	ItemPicked         = "picked"
	ItemPacked         = "packed"
	ItemShipped        = "shipped"
	ItemOutForDelivery = "out_for_delivery"
	ItemDelivered      = "delivered"
	ItemCancelled      = "cancelled"
	ItemFailed         = "failed"
	ItemRefunded       = "refunded"
	ItemReplaced       = "replaced"
)

// Refund statuses shared by orders and return requests.
const (
	RefundNone      = ""
	RefundPending   = "pending"
	RefundProcessed = "processed"
	RefundFailed    = "failed"
)

// RefundState carries the per-entity refund bookkeeping. RefundFinalized is
// only set once the rail has confirmed settlement: the gateway reporting
// "processed" for online payments, an explicit admin confirmation for COD.
type RefundState struct {
	RefundID        string     `json:"refund_id"`
	RefundStatus    string     `json:"refund_status"`
	RefundFinalized bool       `json:"refund_finalized"`
	RefundedAt      *time.Time `json:"refunded_at"`
}

type Order struct {
	BaseModel
	OrderNumber string     `gorm:"uniqueIndex" json:"order_number"`
	UserID      uuid.UUID  `gorm:"type:uuid;index" json:"user_id"`
	User        *User      `json:"user,omitempty"`
	PromoterID  *uuid.UUID `gorm:"type:uuid;index" json:"promoter_id"`
	Promoter    *Promoter  `json:"promoter,omitempty"`
	Status      string     `gorm:"default:pending" json:"status"`
	PlacedAt    time.Time  `json:"placed_at"`

	PaymentMethod  string     `json:"payment_method"`
	GatewayOrderID string     `json:"gateway_order_id"`
	PaymentID      string     `json:"payment_id"`
	IsPaid         bool       `json:"is_paid"`
	PaidAt         *time.Time `json:"paid_at"`

	// Delivery charge is snapshotted at creation so later threshold changes
	// never alter an existing order's totals or pro-rata refund shares.
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	DeliveryCharge decimal.Decimal `gorm:"type:numeric(12,2)" json:"delivery_charge"`
	Total          decimal.Decimal `gorm:"type:numeric(12,2)" json:"total"`

	Commission        decimal.Decimal `gorm:"type:numeric(12,2)" json:"commission"`
	CommissionApplied bool            `json:"commission_applied"`

	RefundState `gorm:"embedded"`
	IsRefunded  bool `json:"is_refunded"`

	StockRestored bool       `json:"stock_restored"`
	CancelReason  string     `json:"cancel_reason"`
	CancelledBy   string     `json:"cancelled_by"`
	CancelledAt   *time.Time `json:"cancelled_at"`

	DeliveredByID *uuid.UUID   `gorm:"type:uuid;index" json:"delivered_by_id"`
	DeliveredBy   *DeliveryMan `gorm:"foreignKey:DeliveredByID" json:"delivered_by,omitempty"`

	DeliveryAddressID   *uuid.UUID `gorm:"type:uuid" json:"delivery_address_id"`
	DeliveryAddressLine string     `json:"delivery_address_line"`
	DeliveryApartment   string     `json:"delivery_apartment"`
	DeliveryCity        string     `json:"delivery_city"`
	DeliveryDistrict    string     `json:"delivery_district"`
	DeliveryPostalCode  string     `json:"delivery_postal_code"`

	Items []OrderItem `json:"items,omitempty"`
}

type OrderItem struct {
	BaseModel
	OrderID          uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	ProductVariantID *uuid.UUID      `gorm:"type:uuid" json:"product_variant_id"`
	Variant          *ProductVariant `gorm:"foreignKey:ProductVariantID" json:"variant,omitempty"`
	ProductName      string          `json:"product_name"`
	VariantLabel     string          `json:"variant_label"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
	LineTotal        decimal.Decimal `gorm:"type:numeric(12,2)" json:"line_total"`
	Status           string          `gorm:"default:pending" json:"status"`

	PickedAt         *time.Time `json:"picked_at"`
	PackedAt         *time.Time `json:"packed_at"`
	ShippedAt        *time.Time `json:"shipped_at"`
	OutForDeliveryAt *time.Time `json:"out_for_delivery_at"`
	DeliveredAt      *time.Time `json:"delivered_at"`
	FailedAt         *time.Time `json:"failed_at"`
}

// TerminalItemStatus reports whether no further forward fulfillment
// transition is possible from the given item status.
func TerminalItemStatus(status string) bool {
	switch status {
	case ItemDelivered, ItemCancelled, ItemFailed, ItemRefunded, ItemReplaced:
		return true
	}
	return false
}

// PreDeliveredItemStatus covers every status from which the failed and
// cancelled branches are still reachable.
func PreDeliveredItemStatus(status string) bool {
	switch status {
	case ItemPending, ItemPicked, ItemPacked, ItemShipped, ItemOutForDelivery:
		return true
	}
	return false
}
