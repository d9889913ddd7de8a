package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product groups sellable variants. Catalog CRUD lives outside this service;
// the engine reads variants and mutates stock through inventory reservation.
type Product struct {
	BaseModel
	Name        string           `json:"name"`
	Description string           `json:"description"`
	IsActive    bool             `gorm:"default:true" json:"is_active"`
	Variants    []ProductVariant `json:"variants,omitempty"`
}

// ProductVariant is the purchasable unit. Price and commission rate are
// snapshotted onto order items at checkout; stock is the hot shared counter
// mutated only through atomic reserve/restock operations.
type ProductVariant struct {
	BaseModel
	ProductID             uuid.UUID       `gorm:"type:uuid;index" json:"product_id"`
	Product               *Product        `json:"product,omitempty"`
	SKU                   string          `gorm:"uniqueIndex" json:"sku"`
	Label                 string          `json:"label"`
	Price                 decimal.Decimal `gorm:"type:numeric(12,2)" json:"price"`
	Stock                 int             `json:"stock"`
	CommissionRate        decimal.Decimal `gorm:"type:numeric(5,2)" json:"commission_rate"`
	AllowReturn           bool            `json:"allow_return"`
	ReturnWindowDays      int             `gorm:"default:7" json:"return_window_days"`
	AllowReplacement      bool            `json:"allow_replacement"`
	ReplacementWindowDays int             `gorm:"default:7" json:"replacement_window_days"`
}
