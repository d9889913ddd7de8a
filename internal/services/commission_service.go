package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
	"github.com/example/fulfillment/internal/utils"
)

// CommissionService credits promoter earnings for referred paid orders,
// exactly once per order.
type CommissionService struct {
	db                  *gorm.DB
	withdrawalThreshold decimal.Decimal
}

// NewCommissionService constructs CommissionService.
func NewCommissionService(db *gorm.DB, withdrawalThreshold decimal.Decimal) *CommissionService {
	return &CommissionService{db: db, withdrawalThreshold: withdrawalThreshold}
}

// Apply computes and credits the promoter commission for an order. It is a
// no-op when the order has no promoter, the promoter is not approved, or the
// commission was already applied: the commission_applied flag is flipped with
// a compare-and-swap, so re-entrant and concurrent calls credit nothing. The
// wallet credit, running totals, withdrawal eligibility and order flag all
// commit in one transaction.
func (s *CommissionService) Apply(ctx context.Context, orderID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.applyTx(tx, orderID)
	})
}

// applyTx runs the commission credit inside the caller's transaction.
func (s *CommissionService) applyTx(tx *gorm.DB, orderID uuid.UUID) error {
	var order models.Order
	if err := tx.Preload("Items.Variant").First(&order, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return models.ErrNotFound
		}
		return fmt.Errorf("commission.Apply: %w", err)
	}

	if order.CommissionApplied || order.PromoterID == nil {
		return nil
	}

	var promoter models.Promoter
	if err := tx.First(&promoter, "id = ?", *order.PromoterID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return fmt.Errorf("commission.Apply: %w", err)
	}
	if promoter.Status != models.PromoterApproved {
		return nil
	}

	total := decimal.Zero
	for _, item := range order.Items {
		if item.Variant == nil {
			continue
		}
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(utils.Percentage(line, item.Variant.CommissionRate))
	}
	if total.IsZero() {
		return nil
	}

	res := tx.Model(&models.Order{}).
		Where("id = ? AND commission_applied = ?", order.ID, false).
		Updates(map[string]any{"commission": total, "commission_applied": true})
	if res.Error != nil {
		return fmt.Errorf("commission.Apply: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil // lost the race, another caller applied it
	}

	if err := tx.Model(&models.Promoter{}).
		Where("id = ?", promoter.ID).
		Updates(map[string]any{
			"wallet_balance": gorm.Expr("wallet_balance + ?", total),
			"total_earned":   gorm.Expr("total_earned + ?", total),
			"total_orders":   gorm.Expr("total_orders + 1"),
		}).Error; err != nil {
		return fmt.Errorf("commission.Apply: %w", err)
	}

	if err := tx.Model(&models.Promoter{}).
		Where("id = ? AND wallet_balance >= ?", promoter.ID, s.withdrawalThreshold).
		Update("eligible_for_withdrawal", true).Error; err != nil {
		return fmt.Errorf("commission.Apply: %w", err)
	}

	entry := models.PromoterTransaction{
		PromoterID:        promoter.ID,
		TransactionNumber: fmt.Sprintf("CMS-%d", time.Now().UnixNano()%1000000000000),
		Type:              "commission",
		Amount:            total,
		OrderID:           &order.ID,
		OccurredAt:        time.Now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("commission.Apply: %w", err)
	}
	return nil
}
