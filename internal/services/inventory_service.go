package services

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
)

// InventoryService owns every stock mutation. Stock is a hot shared counter:
// it is only ever changed through conditional updates inside the transaction
// of the order mutation that triggered them, never read-modify-write.
type InventoryService struct {
	db *gorm.DB
}

// NewInventoryService constructs InventoryService.
func NewInventoryService(db *gorm.DB) *InventoryService {
	return &InventoryService{db: db}
}

// Reserve decrements variant stock for an order item. The decrement and the
// availability check are a single atomic statement; zero rows affected means
// the variant either does not exist or lacks stock.
func (s *InventoryService) Reserve(tx *gorm.DB, variantID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return models.Validationf("quantity must be positive")
	}

	res := tx.Model(&models.ProductVariant{}).
		Where("id = ? AND stock >= ?", variantID, quantity).
		UpdateColumn("stock", gorm.Expr("stock - ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("inventory.Reserve: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.ProductVariant{}).Where("id = ?", variantID).Count(&count).Error; err != nil {
			return fmt.Errorf("inventory.Reserve: %w", err)
		}
		if count == 0 {
			return models.ErrNotFound
		}
		return models.ErrInsufficientStock
	}
	return nil
}

// Restock reverses all item quantities of an order back onto their variants.
// The per-order stock_restored flag is flipped with a compare-and-swap first,
// so a second invocation (cancel retry, concurrent requests) is a no-op.
func (s *InventoryService) Restock(tx *gorm.DB, order *models.Order) error {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND stock_restored = ?", order.ID, false).
		UpdateColumn("stock_restored", true)
	if res.Error != nil {
		return fmt.Errorf("inventory.Restock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil // already restocked
	}
	order.StockRestored = true

	for _, item := range order.Items {
		if item.ProductVariantID == nil {
			continue
		}
		if err := s.Credit(tx, *item.ProductVariantID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// Credit adds quantity back onto a variant, e.g. after an approved return
// inspection.
func (s *InventoryService) Credit(tx *gorm.DB, variantID uuid.UUID, quantity int) error {
	res := tx.Model(&models.ProductVariant{}).
		Where("id = ?", variantID).
		UpdateColumn("stock", gorm.Expr("stock + ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("inventory.Credit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}
