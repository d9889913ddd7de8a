package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
)

// RefundService drives refund initiation and reconciliation against the
// payment gateway. Online refunds finalize only when the gateway reports
// "processed"; COD refunds stay pending until an admin confirms the manual
// payout. Gateway failures leave local refund fields untouched.
type RefundService struct {
	db          *gorm.DB
	gateway     PaymentGateway
	fulfillment *FulfillmentService
}

// NewRefundService constructs RefundService.
func NewRefundService(db *gorm.DB, gateway PaymentGateway, fulfillment *FulfillmentService) *RefundService {
	return &RefundService{db: db, gateway: gateway, fulfillment: fulfillment}
}

// outstanding reports whether an unconfirmed refund already exists for the
// entity. Only one may be in flight, keyed by refund id rather than entity
// id, so calling twice before confirmation can never double-refund.
func outstanding(state models.RefundState) bool {
	return !state.RefundFinalized && (state.RefundID != "" || state.RefundStatus == models.RefundPending)
}

// ProcessOrderRefund initiates a refund of the given amount for an order,
// dispatching on its payment rail.
func (s *RefundService) ProcessOrderRefund(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) ([]Event, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("refund.ProcessOrderRefund: %w", err)
	}

	if order.RefundFinalized {
		return nil, models.Validationf("order %s is already refunded", order.OrderNumber)
	}
	if outstanding(order.RefundState) {
		return nil, &models.ConflictError{Reason: "a refund is already in progress for this order", ExistingID: order.ID}
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, models.Validationf("refund amount must be positive")
	}

	if order.PaymentMethod == models.PaymentCOD {
		// No external rail to call: record the pending manual payout.
		if err := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("refund_status", models.RefundPending).Error; err != nil {
			return nil, fmt.Errorf("refund.ProcessOrderRefund: %w", err)
		}
		return nil, nil
	}

	if !order.IsPaid || order.PaymentID == "" {
		return nil, models.Validationf("order %s has no captured payment to refund", order.OrderNumber)
	}

	result, err := s.gateway.Refund(ctx, order.PaymentID, amount)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"refund_id":     result.ID,
		"refund_status": result.Status,
	}
	var events []Event
	if result.Status == GatewayRefundProcessed {
		now := time.Now()
		updates["refund_finalized"] = true
		updates["refunded_at"] = now
		updates["is_refunded"] = true
		events = append(events, orderEvent(models.EventRefundFinalized, order.UserID, order.ID,
			fmt.Sprintf("Refund of %s for order %s has been processed", amount.StringFixed(2), order.OrderNumber)))
	}
	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("refund.ProcessOrderRefund: %w", err)
	}
	return events, nil
}

// ProcessReturnRefund initiates the refund recorded on an approved return
// request.
func (s *RefundService) ProcessReturnRefund(ctx context.Context, requestID uuid.UUID) ([]Event, error) {
	var req models.ReturnRequest
	if err := s.db.WithContext(ctx).Preload("Order").First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("refund.ProcessReturnRefund: %w", err)
	}

	if req.RefundFinalized {
		return nil, models.Validationf("return request is already refunded")
	}
	if outstanding(req.RefundState) {
		return nil, &models.ConflictError{Reason: "a refund is already in progress for this return", ExistingID: req.ID}
	}
	if req.RefundAmount.LessThanOrEqual(decimal.Zero) {
		return nil, models.Validationf("return request has no refund amount")
	}

	if req.Order.PaymentMethod == models.PaymentCOD {
		if err := s.db.WithContext(ctx).Model(&models.ReturnRequest{}).
			Where("id = ?", req.ID).
			Update("refund_status", models.RefundPending).Error; err != nil {
			return nil, fmt.Errorf("refund.ProcessReturnRefund: %w", err)
		}
		return nil, nil
	}

	if !req.Order.IsPaid || req.Order.PaymentID == "" {
		return nil, models.Validationf("order %s has no captured payment to refund", req.Order.OrderNumber)
	}

	result, err := s.gateway.Refund(ctx, req.Order.PaymentID, req.RefundAmount)
	if err != nil {
		return nil, err
	}

	if result.Status == GatewayRefundProcessed {
		return s.finalizeReturnRefund(ctx, &req, result.ID)
	}

	if err := s.db.WithContext(ctx).Model(&models.ReturnRequest{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{"refund_id": result.ID, "refund_status": result.Status}).Error; err != nil {
		return nil, fmt.Errorf("refund.ProcessReturnRefund: %w", err)
	}
	return nil, nil
}

// CheckOrderRefund reconciles an order's refund with the gateway. For COD
// there is no external source of truth, so the local state is reported as is.
func (s *RefundService) CheckOrderRefund(ctx context.Context, orderID uuid.UUID) (string, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("refund.CheckOrderRefund: %w", err)
	}

	if order.PaymentMethod == models.PaymentCOD {
		return order.RefundStatus, nil
	}
	if order.RefundID == "" {
		return "", models.Validationf("no refund has been initiated for order %s", order.OrderNumber)
	}
	if order.RefundFinalized {
		return order.RefundStatus, nil
	}

	result, err := s.gateway.FetchRefund(ctx, order.RefundID)
	if err != nil {
		return "", err
	}

	switch result.Status {
	case GatewayRefundProcessed:
		now := time.Now()
		res := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ? AND refund_finalized = ?", order.ID, false).
			Updates(map[string]any{
				"refund_status":    models.RefundProcessed,
				"refund_finalized": true,
				"refunded_at":      now,
				"is_refunded":      true,
			})
		if res.Error != nil {
			return "", fmt.Errorf("refund.CheckOrderRefund: %w", res.Error)
		}
		return models.RefundProcessed, nil
	case GatewayRefundFailed:
		if err := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("refund_status", models.RefundFailed).Error; err != nil {
			return "", fmt.Errorf("refund.CheckOrderRefund: %w", err)
		}
		return models.RefundFailed, nil
	default:
		return result.Status, nil
	}
}

// CheckReturnRefund reconciles a return request's refund with the gateway.
func (s *RefundService) CheckReturnRefund(ctx context.Context, requestID uuid.UUID) (string, error) {
	var req models.ReturnRequest
	if err := s.db.WithContext(ctx).Preload("Order").First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("refund.CheckReturnRefund: %w", err)
	}

	if req.Order.PaymentMethod == models.PaymentCOD {
		return req.RefundStatus, nil
	}
	if req.RefundID == "" {
		return "", models.Validationf("no refund has been initiated for this return")
	}
	if req.RefundFinalized {
		return req.RefundStatus, nil
	}

	result, err := s.gateway.FetchRefund(ctx, req.RefundID)
	if err != nil {
		return "", err
	}

	switch result.Status {
	case GatewayRefundProcessed:
		if _, err := s.finalizeReturnRefund(ctx, &req, req.RefundID); err != nil {
			return "", err
		}
		return models.RefundProcessed, nil
	case GatewayRefundFailed:
		if err := s.db.WithContext(ctx).Model(&models.ReturnRequest{}).
			Where("id = ?", req.ID).
			Update("refund_status", models.RefundFailed).Error; err != nil {
			return "", fmt.Errorf("refund.CheckReturnRefund: %w", err)
		}
		return models.RefundFailed, nil
	default:
		return result.Status, nil
	}
}

// ConfirmOrderRefund records the manual payout of a COD refund. It stamps
// refunded_at and cascades the processed status to any linked return
// requests still pending.
func (s *RefundService) ConfirmOrderRefund(ctx context.Context, orderID uuid.UUID, actor models.Actor) error {
	if actor.Role != models.RoleAdmin {
		return models.Validationf("only admins may confirm manual refunds")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.ErrNotFound
			}
			return fmt.Errorf("refund.ConfirmOrderRefund: %w", err)
		}
		if order.PaymentMethod != models.PaymentCOD {
			return models.Validationf("manual confirmation only applies to cod refunds")
		}

		now := time.Now()
		res := tx.Model(&models.Order{}).
			Where("id = ? AND refund_status = ? AND refund_finalized = ?", order.ID, models.RefundPending, false).
			Updates(map[string]any{
				"refund_status":    models.RefundProcessed,
				"refund_finalized": true,
				"refunded_at":      now,
				"is_refunded":      true,
			})
		if res.Error != nil {
			return fmt.Errorf("refund.ConfirmOrderRefund: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.Validationf("order has no pending manual refund")
		}

		if err := tx.Model(&models.ReturnRequest{}).
			Where("order_id = ? AND refund_status = ? AND refund_finalized = ?", order.ID, models.RefundPending, false).
			Updates(map[string]any{
				"refund_status":    models.RefundProcessed,
				"refund_finalized": true,
				"refunded_at":      now,
				"status":           models.RequestRefunded,
			}).Error; err != nil {
			return fmt.Errorf("refund.ConfirmOrderRefund: %w", err)
		}
		return nil
	})
}

// ConfirmReturnRefund records the manual payout of a COD return refund.
func (s *RefundService) ConfirmReturnRefund(ctx context.Context, requestID uuid.UUID, actor models.Actor) ([]Event, error) {
	if actor.Role != models.RoleAdmin {
		return nil, models.Validationf("only admins may confirm manual refunds")
	}

	var req models.ReturnRequest
	if err := s.db.WithContext(ctx).Preload("Order").First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("refund.ConfirmReturnRefund: %w", err)
	}
	if req.Order.PaymentMethod != models.PaymentCOD {
		return nil, models.Validationf("manual confirmation only applies to cod refunds")
	}
	if req.RefundStatus != models.RefundPending || req.RefundFinalized {
		return nil, models.Validationf("return request has no pending manual refund")
	}

	return s.finalizeReturnRefund(ctx, &req, "")
}

// finalizeReturnRefund stamps the settled refund onto the request, branches
// the item to refunded and marks the order refunded, in one transaction.
func (s *RefundService) finalizeReturnRefund(ctx context.Context, req *models.ReturnRequest, refundID string) ([]Event, error) {
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]any{
			"refund_status":    models.RefundProcessed,
			"refund_finalized": true,
			"refunded_at":      now,
			"status":           models.RequestRefunded,
		}
		if refundID != "" {
			updates["refund_id"] = refundID
		}
		res := tx.Model(&models.ReturnRequest{}).
			Where("id = ? AND refund_finalized = ?", req.ID, false).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("refund.finalizeReturnRefund: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil // already finalized
		}

		if err := s.fulfillment.MarkResolved(tx, req.OrderItemID, models.ItemRefunded, models.SystemActor); err != nil {
			// The item may already be refunded from a prior reconciliation.
			if _, ok := err.(*models.InvalidTransitionError); !ok {
				return err
			}
			log.Printf("[Refund] Item %s already resolved: %v", req.OrderItemID, err)
		}

		if err := tx.Model(&models.Order{}).
			Where("id = ?", req.OrderID).
			Update("is_refunded", true).Error; err != nil {
			return fmt.Errorf("refund.finalizeReturnRefund: %w", err)
		}

		events = append(events, itemEvent(models.EventRefundFinalized, req.UserID, req.OrderID, req.OrderItemID,
			fmt.Sprintf("Refund of %s for your return has been processed", req.RefundAmount.StringFixed(2))))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
