package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Actor roles. Every state-machine transition is gated on one of these.
const (
	RoleCustomer  = "customer"
	RoleWarehouse = "warehouse"
	RoleDelivery  = "delivery"
	RoleAdmin     = "admin"
	RoleSystem    = "system"
)

// User represents an authenticated account. Identity management itself is an
// external concern; the engine only needs the id, role and contact fields.
type User struct {
	BaseModel
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Email        string        `gorm:"uniqueIndex" json:"email"`
	Phone        string        `gorm:"index" json:"phone"`
	PasswordHash string        `json:"-"`
	Role         string        `gorm:"default:customer" json:"role"`
	IsActive     bool          `gorm:"default:true" json:"is_active"`
	Addresses    []UserAddress `json:"addresses,omitempty"`
	Orders       []Order       `json:"orders,omitempty"`
}

// Actor is the authenticated party performing a state-machine operation.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	Email  string    `json:"email"`
}

// SystemActor performs transitions triggered by the engine itself
// (cancellation cascades, refund reconciliation).
var SystemActor = Actor{Role: RoleSystem}

type UserAddress struct {
	BaseModel
	UserID      uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Label       string    `json:"label"`
	AddressLine string    `json:"address_line"`
	Apartment   string    `json:"apartment"`
	City        string    `json:"city"`
	District    string    `json:"district"`
	PostalCode  string    `json:"postal_code"`
	IsDefault   bool      `json:"is_default"`
}

// DeliveryMan tracks a delivery agent and their running totals. Orders
// reference (not own) the agent through delivered_by.
type DeliveryMan struct {
	BaseModel
	UserID          uuid.UUID       `gorm:"type:uuid;uniqueIndex" json:"user_id"`
	User            *User           `json:"user,omitempty"`
	IsActive        bool            `gorm:"default:true" json:"is_active"`
	TotalDeliveries int             `json:"total_deliveries"`
	TotalEarnings   decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_earnings"`
	CashCollected   decimal.Decimal `gorm:"type:numeric(12,2)" json:"cash_collected"`
}

// Promoter statuses.
const (
	PromoterPending  = "pending"
	PromoterApproved = "approved"
	PromoterRejected = "rejected"
)

// Promoter earns a commission when a referred order is fully paid.
type Promoter struct {
	BaseModel
	UserID                uuid.UUID       `gorm:"type:uuid;uniqueIndex" json:"user_id"`
	User                  *User           `json:"user,omitempty"`
	Status                string          `gorm:"default:pending" json:"status"`
	ReferralCode          string          `gorm:"uniqueIndex" json:"referral_code"`
	WalletBalance         decimal.Decimal `gorm:"type:numeric(12,2)" json:"wallet_balance"`
	TotalEarned           decimal.Decimal `gorm:"type:numeric(12,2)" json:"total_earned"`
	TotalOrders           int             `json:"total_orders"`
	EligibleForWithdrawal bool            `json:"eligible_for_withdrawal"`
}

// PromoterTransaction is the append-only record of every wallet credit.
type PromoterTransaction struct {
	BaseModel
	PromoterID        uuid.UUID       `gorm:"type:uuid;index" json:"promoter_id"`
	TransactionNumber string          `gorm:"uniqueIndex" json:"transaction_number"`
	Type              string          `json:"type"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	OrderID           *uuid.UUID      `gorm:"type:uuid" json:"order_id"`
	OccurredAt        time.Time       `json:"occurred_at"`
}
