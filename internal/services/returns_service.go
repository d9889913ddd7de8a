package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
	"github.com/example/fulfillment/internal/utils"
)

// ReturnsService runs the post-sale pipeline for delivered items: customer
// request, OTP-verified pickup by a delivery agent, warehouse inspection and
// admin resolution. Returns resolve into a refund, replacements into a
// zero-cost paid order for the same variant.
type ReturnsService struct {
	db          *gorm.DB
	fulfillment *FulfillmentService
	inventory   *InventoryService
	otps        *OTPService
	refunds     *RefundService
	orders      *OrderService
}

// NewReturnsService constructs ReturnsService.
func NewReturnsService(db *gorm.DB, fulfillment *FulfillmentService, inventory *InventoryService, otps *OTPService, refunds *RefundService, orders *OrderService) *ReturnsService {
	return &ReturnsService{
		db:          db,
		fulfillment: fulfillment,
		inventory:   inventory,
		otps:        otps,
		refunds:     refunds,
		orders:      orders,
	}
}

// CreateReturn opens a return request for a delivered item. The refund amount
// is fixed here: the line total plus the item's pro-rata share of the order's
// delivery charge. COD orders have no rail to push money back through, so the
// customer must supply a payout UPI up front.
func (s *ReturnsService) CreateReturn(ctx context.Context, actor models.Actor, itemID uuid.UUID, reason, payeeUPI string) (*models.ReturnRequest, []Event, error) {
	item, order, variant, err := s.returnableItem(ctx, actor, itemID)
	if err != nil {
		return nil, nil, err
	}

	if !variant.AllowReturn {
		return nil, nil, models.Validationf("%s is not eligible for return", item.ProductName)
	}
	if err := s.withinWindow(item, variant.ReturnWindowDays, "return"); err != nil {
		return nil, nil, err
	}
	if order.PaymentMethod == models.PaymentCOD && payeeUPI == "" {
		return nil, nil, models.Validationf("a payout upi is required to refund a cash on delivery order")
	}

	req := models.ReturnRequest{
		OrderID:      order.ID,
		OrderItemID:  item.ID,
		UserID:       order.UserID,
		Reason:       reason,
		Status:       models.RequestPending,
		PickupStatus: models.PickupPending,
		RefundAmount: item.LineTotal.Add(
			utils.ProRataShare(order.DeliveryCharge, item.LineTotal, order.Subtotal)),
		PayeeUPI: payeeUPI,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNoActiveRequest(tx, item.ID); err != nil {
			return err
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		return nil, nil, err
	}

	// A failed code dispatch must not sink the request; the agent can
	// regenerate at the doorstep.
	if _, _, err := s.otps.Generate(ctx, item.ID, models.EventReturnPickup); err != nil {
		log.Printf("[Returns] Failed to issue pickup code for item %s: %v", item.ID, err)
	}

	events := []Event{itemEvent(models.EventReturnRequested, order.UserID, order.ID, item.ID,
		fmt.Sprintf("Return requested for %s from order %s", item.ProductName, order.OrderNumber))}
	return &req, events, nil
}

// CreateReplacement opens a replacement request for a delivered item under
// the variant's replacement policy.
func (s *ReturnsService) CreateReplacement(ctx context.Context, actor models.Actor, itemID uuid.UUID, reason string) (*models.ReplacementRequest, []Event, error) {
	item, order, variant, err := s.returnableItem(ctx, actor, itemID)
	if err != nil {
		return nil, nil, err
	}

	if !variant.AllowReplacement {
		return nil, nil, models.Validationf("%s is not eligible for replacement", item.ProductName)
	}
	if err := s.withinWindow(item, variant.ReplacementWindowDays, "replacement"); err != nil {
		return nil, nil, err
	}

	req := models.ReplacementRequest{
		OrderID:      order.ID,
		OrderItemID:  item.ID,
		UserID:       order.UserID,
		Reason:       reason,
		Status:       models.RequestPending,
		PickupStatus: models.PickupPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNoActiveRequest(tx, item.ID); err != nil {
			return err
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		return nil, nil, err
	}

	if _, _, err := s.otps.Generate(ctx, item.ID, models.EventReturnPickup); err != nil {
		log.Printf("[Returns] Failed to issue pickup code for item %s: %v", item.ID, err)
	}

	events := []Event{itemEvent(models.EventReturnRequested, order.UserID, order.ID, item.ID,
		fmt.Sprintf("Replacement requested for %s from order %s", item.ProductName, order.OrderNumber))}
	return &req, events, nil
}

// CollectReturnPickup records an agent collecting the item from the customer,
// gated by the pickup OTP.
func (s *ReturnsService) CollectReturnPickup(ctx context.Context, actor models.Actor, requestID uuid.UUID, code string) (*models.ReturnRequest, error) {
	agent, err := s.deliveryAgent(ctx, actor)
	if err != nil {
		return nil, err
	}

	var req models.ReturnRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("returns.CollectReturnPickup: %w", err)
	}
	if req.PickupStatus != models.PickupPending {
		return nil, models.Validationf("pickup is already %s", req.PickupStatus)
	}
	if !models.ActiveRequestStatus(req.Status) {
		return nil, models.Validationf("request is already %s", req.Status)
	}

	if err := s.otps.Verify(ctx, req.OrderItemID, models.EventReturnPickup, code); err != nil {
		return nil, err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.ReturnRequest{}).
		Where("id = ? AND pickup_status = ?", req.ID, models.PickupPending).
		Updates(map[string]any{
			"pickup_status":         models.PickupCollected,
			"pickup_verified_by_id": agent.ID,
			"picked_up_at":          now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("returns.CollectReturnPickup: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.Validationf("pickup was collected concurrently")
	}

	if err := s.db.WithContext(ctx).First(&req, "id = ?", req.ID).Error; err != nil {
		return nil, fmt.Errorf("returns.CollectReturnPickup: %w", err)
	}
	return &req, nil
}

// CollectReplacementPickup mirrors CollectReturnPickup for replacements and
// advances the request to shipped: the old unit is on its way back and the
// replacement pipeline is in motion.
func (s *ReturnsService) CollectReplacementPickup(ctx context.Context, actor models.Actor, requestID uuid.UUID, code string) (*models.ReplacementRequest, error) {
	agent, err := s.deliveryAgent(ctx, actor)
	if err != nil {
		return nil, err
	}

	var req models.ReplacementRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("returns.CollectReplacementPickup: %w", err)
	}
	if req.PickupStatus != models.PickupPending {
		return nil, models.Validationf("pickup is already %s", req.PickupStatus)
	}
	if !models.ActiveRequestStatus(req.Status) {
		return nil, models.Validationf("request is already %s", req.Status)
	}

	if err := s.otps.Verify(ctx, req.OrderItemID, models.EventReturnPickup, code); err != nil {
		return nil, err
	}

	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.ReplacementRequest{}).
		Where("id = ? AND pickup_status = ?", req.ID, models.PickupPending).
		Updates(map[string]any{
			"pickup_status":         models.PickupCollected,
			"pickup_verified_by_id": agent.ID,
			"picked_up_at":          now,
			"status":                models.RequestShipped,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("returns.CollectReplacementPickup: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.Validationf("pickup was collected concurrently")
	}

	if err := s.db.WithContext(ctx).First(&req, "id = ?", req.ID).Error; err != nil {
		return nil, fmt.Errorf("returns.CollectReplacementPickup: %w", err)
	}
	return &req, nil
}

// InspectReturn records the warehouse verdict on a collected return. An
// approved unit goes straight back into sellable stock; a rejected one is
// terminal for the request.
func (s *ReturnsService) InspectReturn(ctx context.Context, actor models.Actor, requestID uuid.UUID, decision, comment string) (*models.ReturnRequest, error) {
	if err := inspectionAllowed(actor, decision); err != nil {
		return nil, err
	}

	var req models.ReturnRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("OrderItem").First(&req, "id = ?", requestID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.ErrNotFound
			}
			return fmt.Errorf("returns.InspectReturn: %w", err)
		}
		if req.PickupStatus != models.PickupCollected {
			return models.Validationf("inspection requires the pickup to be collected, it is %s", req.PickupStatus)
		}
		if req.WarehouseDecision != models.DecisionNone {
			return models.Validationf("request was already inspected as %s", req.WarehouseDecision)
		}

		now := time.Now()
		status := models.RequestApproved
		if decision == models.DecisionRejected {
			status = models.RequestRejected
		}
		if err := tx.Model(&models.ReturnRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]any{
				"warehouse_decision": decision,
				"inspected_at":       now,
				"status":             status,
			}).Error; err != nil {
			return fmt.Errorf("returns.InspectReturn: %w", err)
		}

		if err := tx.Create(&models.WarehouseLog{
			OrderID:     req.OrderID,
			OrderItemID: &req.OrderItemID,
			ActorID:     actorIDPtr(actor),
			ActorRole:   actor.Role,
			Action:      "inspect_return",
			ToStatus:    status,
			Comment:     comment,
		}).Error; err != nil {
			return fmt.Errorf("returns.InspectReturn: %w", err)
		}

		if decision == models.DecisionApproved && req.OrderItem != nil && req.OrderItem.ProductVariantID != nil {
			return s.inventory.Credit(tx, *req.OrderItem.ProductVariantID, req.OrderItem.Quantity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(&req, "id = ?", req.ID).Error; err != nil {
		return nil, fmt.Errorf("returns.InspectReturn: %w", err)
	}
	return &req, nil
}

// InspectReplacement records the warehouse verdict on a collected
// replacement. Approved units restock like returns; the customer's new unit
// ships from fresh inventory at resolution.
func (s *ReturnsService) InspectReplacement(ctx context.Context, actor models.Actor, requestID uuid.UUID, decision, comment string) (*models.ReplacementRequest, error) {
	if err := inspectionAllowed(actor, decision); err != nil {
		return nil, err
	}

	var req models.ReplacementRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("OrderItem").First(&req, "id = ?", requestID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.ErrNotFound
			}
			return fmt.Errorf("returns.InspectReplacement: %w", err)
		}
		if req.PickupStatus != models.PickupCollected {
			return models.Validationf("inspection requires the pickup to be collected, it is %s", req.PickupStatus)
		}
		if req.WarehouseDecision != models.DecisionNone {
			return models.Validationf("request was already inspected as %s", req.WarehouseDecision)
		}

		now := time.Now()
		status := models.RequestApproved
		if decision == models.DecisionRejected {
			status = models.RequestRejected
		}
		if err := tx.Model(&models.ReplacementRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]any{
				"warehouse_decision": decision,
				"inspected_at":       now,
				"status":             status,
			}).Error; err != nil {
			return fmt.Errorf("returns.InspectReplacement: %w", err)
		}

		if err := tx.Create(&models.WarehouseLog{
			OrderID:     req.OrderID,
			OrderItemID: &req.OrderItemID,
			ActorID:     actorIDPtr(actor),
			ActorRole:   actor.Role,
			Action:      "inspect_replacement",
			ToStatus:    status,
			Comment:     comment,
		}).Error; err != nil {
			return fmt.Errorf("returns.InspectReplacement: %w", err)
		}

		if decision == models.DecisionApproved && req.OrderItem != nil && req.OrderItem.ProductVariantID != nil {
			return s.inventory.Credit(tx, *req.OrderItem.ProductVariantID, req.OrderItem.Quantity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(&req, "id = ?", req.ID).Error; err != nil {
		return nil, fmt.Errorf("returns.InspectReplacement: %w", err)
	}
	return &req, nil
}

// ResolveReturn is the admin verdict on a warehouse-approved return. Approval
// pushes the refund onto the order's payment rail; rejection is terminal.
func (s *ReturnsService) ResolveReturn(ctx context.Context, actor models.Actor, requestID uuid.UUID, decision string) (*models.ReturnRequest, []Event, error) {
	if err := resolutionAllowed(actor, decision); err != nil {
		return nil, nil, err
	}

	var req models.ReturnRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, models.ErrNotFound
		}
		return nil, nil, fmt.Errorf("returns.ResolveReturn: %w", err)
	}
	if req.WarehouseDecision != models.DecisionApproved || req.Status != models.RequestApproved {
		return nil, nil, models.Validationf("resolution requires an approved warehouse inspection")
	}
	if req.AdminDecision != models.DecisionNone {
		// An approved resolution whose refund initiation failed at the gateway
		// has no refund recorded at all; re-approving retries the refund.
		// Everything else is final.
		refundMissing := !req.RefundFinalized && req.RefundID == "" && req.RefundStatus == ""
		if req.AdminDecision != models.DecisionApproved || decision != models.DecisionApproved || !refundMissing {
			return nil, nil, models.Validationf("request was already resolved as %s", req.AdminDecision)
		}
	}

	now := time.Now()
	if decision == models.DecisionRejected {
		if err := s.db.WithContext(ctx).Model(&models.ReturnRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]any{
				"admin_decision": decision,
				"resolved_at":    now,
				"status":         models.RequestRejected,
			}).Error; err != nil {
			return nil, nil, fmt.Errorf("returns.ResolveReturn: %w", err)
		}
		if err := s.db.WithContext(ctx).First(&req, "id = ?", req.ID).Error; err != nil {
			return nil, nil, fmt.Errorf("returns.ResolveReturn: %w", err)
		}
		events := []Event{itemEvent(models.EventReturnResolved, req.UserID, req.OrderID, req.OrderItemID,
			"Your return request was rejected after review")}
		return &req, events, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.ReturnRequest{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{"admin_decision": decision, "resolved_at": now}).Error; err != nil {
		return nil, nil, fmt.Errorf("returns.ResolveReturn: %w", err)
	}

	refundEvents, err := s.refunds.ProcessReturnRefund(ctx, req.ID)
	if err != nil {
		// The approval is recorded; the refund stays retryable through the
		// refund endpoints.
		return &req, nil, err
	}

	if err := s.db.WithContext(ctx).First(&req, "id = ?", req.ID).Error; err != nil {
		return nil, nil, fmt.Errorf("returns.ResolveReturn: %w", err)
	}
	events := append([]Event{itemEvent(models.EventReturnResolved, req.UserID, req.OrderID, req.OrderItemID,
		"Your return request was approved")}, refundEvents...)
	return &req, events, nil
}

// ResolveReplacement is the admin verdict on a warehouse-approved
// replacement. Approval lazily creates a zero-cost paid order for the same
// variant; the guard on new_order_id makes re-entry after a partial failure
// safe because the mirror order is only ever created once.
func (s *ReturnsService) ResolveReplacement(ctx context.Context, actor models.Actor, requestID uuid.UUID, decision string) (*models.ReplacementRequest, []Event, error) {
	if err := resolutionAllowed(actor, decision); err != nil {
		return nil, nil, err
	}

	var req models.ReplacementRequest
	if err := s.db.WithContext(ctx).Preload("OrderItem").Preload("Order").
		First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, models.ErrNotFound
		}
		return nil, nil, fmt.Errorf("returns.ResolveReplacement: %w", err)
	}
	if req.WarehouseDecision != models.DecisionApproved {
		return nil, nil, models.Validationf("resolution requires an approved warehouse inspection")
	}
	if req.Status == models.RequestCompleted || req.Status == models.RequestRejected {
		return nil, nil, models.Validationf("request is already %s", req.Status)
	}

	now := time.Now()
	if decision == models.DecisionRejected {
		if err := s.db.WithContext(ctx).Model(&models.ReplacementRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]any{
				"admin_decision": decision,
				"resolved_at":    now,
				"status":         models.RequestRejected,
			}).Error; err != nil {
			return nil, nil, fmt.Errorf("returns.ResolveReplacement: %w", err)
		}
		if err := s.db.WithContext(ctx).First(&req, "id = ?", req.ID).Error; err != nil {
			return nil, nil, fmt.Errorf("returns.ResolveReplacement: %w", err)
		}
		events := []Event{itemEvent(models.EventReturnResolved, req.UserID, req.OrderID, req.OrderItemID,
			"Your replacement request was rejected after review")}
		return &req, events, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.NewOrderID == nil {
			newOrder, err := s.mirrorOrder(tx, &req)
			if err != nil {
				return err
			}
			req.NewOrderID = &newOrder.ID
		}

		if err := tx.Model(&models.ReplacementRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]any{
				"admin_decision": decision,
				"resolved_at":    now,
				"status":         models.RequestCompleted,
				"new_order_id":   *req.NewOrderID,
			}).Error; err != nil {
			return fmt.Errorf("returns.ResolveReplacement: %w", err)
		}

		if err := s.fulfillment.MarkResolved(tx, req.OrderItemID, models.ItemReplaced, models.SystemActor); err != nil {
			// Re-entry after a partial failure: the item may already carry
			// the replaced status.
			if _, ok := err.(*models.InvalidTransitionError); !ok {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if err := s.db.WithContext(ctx).Preload("NewOrder").First(&req, "id = ?", req.ID).Error; err != nil {
		return nil, nil, fmt.Errorf("returns.ResolveReplacement: %w", err)
	}
	events := []Event{itemEvent(models.EventReturnResolved, req.UserID, req.OrderID, req.OrderItemID,
		"Your replacement was approved and a new unit is being prepared")}
	return &req, events, nil
}

// mirrorOrder creates the zero-cost paid order that carries the replacement
// unit through the regular fulfillment pipeline. Stock for the new unit is
// reserved here; insufficient stock aborts the resolution.
func (s *ReturnsService) mirrorOrder(tx *gorm.DB, req *models.ReplacementRequest) (*models.Order, error) {
	if req.OrderItem == nil || req.Order == nil {
		return nil, models.ErrNotFound
	}
	if req.OrderItem.ProductVariantID == nil {
		return nil, models.Validationf("original item no longer references a variant")
	}

	if err := s.inventory.Reserve(tx, *req.OrderItem.ProductVariantID, req.OrderItem.Quantity); err != nil {
		return nil, err
	}

	now := time.Now()
	order := models.Order{
		OrderNumber:   s.orders.generateOrderNumber(),
		UserID:        req.Order.UserID,
		Status:        models.OrderPending,
		PlacedAt:      now,
		PaymentMethod: req.Order.PaymentMethod,
		IsPaid:        true,
		PaidAt:        &now,

		DeliveryAddressID:   req.Order.DeliveryAddressID,
		DeliveryAddressLine: req.Order.DeliveryAddressLine,
		DeliveryApartment:   req.Order.DeliveryApartment,
		DeliveryCity:        req.Order.DeliveryCity,
		DeliveryDistrict:    req.Order.DeliveryDistrict,
		DeliveryPostalCode:  req.Order.DeliveryPostalCode,

		Items: []models.OrderItem{{
			ProductVariantID: req.OrderItem.ProductVariantID,
			ProductName:      req.OrderItem.ProductName,
			VariantLabel:     req.OrderItem.VariantLabel,
			Quantity:         req.OrderItem.Quantity,
			Status:           models.ItemPending,
		}},
	}
	if err := tx.Create(&order).Error; err != nil {
		return nil, fmt.Errorf("returns.mirrorOrder: %w", err)
	}
	return &order, nil
}

// GetReturn returns one request, enforcing ownership for customers.
func (s *ReturnsService) GetReturn(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.ReturnRequest, error) {
	var req models.ReturnRequest
	if err := s.db.WithContext(ctx).Preload("OrderItem").First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("returns.GetReturn: %w", err)
	}
	if actor.Role == models.RoleCustomer && req.UserID != actor.UserID {
		return nil, models.ErrNotFound
	}
	return &req, nil
}

// GetReplacement returns one request, enforcing ownership for customers.
func (s *ReturnsService) GetReplacement(ctx context.Context, actor models.Actor, requestID uuid.UUID) (*models.ReplacementRequest, error) {
	var req models.ReplacementRequest
	if err := s.db.WithContext(ctx).Preload("OrderItem").Preload("NewOrder").
		First(&req, "id = ?", requestID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("returns.GetReplacement: %w", err)
	}
	if actor.Role == models.RoleCustomer && req.UserID != actor.UserID {
		return nil, models.ErrNotFound
	}
	return &req, nil
}

// ListReturns lists return requests, scoped to the caller's own for
// customers and filterable by status for staff.
func (s *ReturnsService) ListReturns(ctx context.Context, actor models.Actor, status string, limit, offset int) ([]models.ReturnRequest, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ReturnRequest{})
	if actor.Role == models.RoleCustomer {
		query = query.Where("user_id = ?", actor.UserID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("returns.ListReturns: %w", err)
	}

	var reqs []models.ReturnRequest
	if err := query.Preload("OrderItem").
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&reqs).Error; err != nil {
		return nil, 0, fmt.Errorf("returns.ListReturns: %w", err)
	}
	return reqs, total, nil
}

// ListReplacements mirrors ListReturns for replacement requests.
func (s *ReturnsService) ListReplacements(ctx context.Context, actor models.Actor, status string, limit, offset int) ([]models.ReplacementRequest, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ReplacementRequest{})
	if actor.Role == models.RoleCustomer {
		query = query.Where("user_id = ?", actor.UserID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("returns.ListReplacements: %w", err)
	}

	var reqs []models.ReplacementRequest
	if err := query.Preload("OrderItem").
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&reqs).Error; err != nil {
		return nil, 0, fmt.Errorf("returns.ListReplacements: %w", err)
	}
	return reqs, total, nil
}

// returnableItem loads the item, its order and variant, and checks the acting
// customer owns it and that it was actually delivered.
func (s *ReturnsService) returnableItem(ctx context.Context, actor models.Actor, itemID uuid.UUID) (*models.OrderItem, *models.Order, *models.ProductVariant, error) {
	var item models.OrderItem
	if err := s.db.WithContext(ctx).Preload("Variant").First(&item, "id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, nil, models.ErrNotFound
		}
		return nil, nil, nil, fmt.Errorf("returns.returnableItem: %w", err)
	}

	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", item.OrderID).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("returns.returnableItem: %w", err)
	}

	if actor.Role == models.RoleCustomer && order.UserID != actor.UserID {
		return nil, nil, nil, models.ErrNotFound
	}
	if item.Status != models.ItemDelivered {
		return nil, nil, nil, &models.InvalidTransitionError{
			From:   item.Status,
			To:     models.ItemRefunded,
			Reason: "only delivered items can enter the post-sale workflow",
		}
	}
	if item.Variant == nil {
		return nil, nil, nil, models.Validationf("item no longer references a variant")
	}
	return &item, &order, item.Variant, nil
}

// withinWindow enforces the variant's day window counted from delivery.
func (s *ReturnsService) withinWindow(item *models.OrderItem, windowDays int, kind string) error {
	if item.DeliveredAt == nil {
		return models.Validationf("item has no delivery timestamp")
	}
	if windowDays <= 0 {
		return nil // no window configured means no time limit
	}
	deadline := item.DeliveredAt.AddDate(0, 0, windowDays)
	if time.Now().After(deadline) {
		return models.Validationf("%s window of %d days closed on %s", kind, windowDays, deadline.Format("2006-01-02"))
	}
	return nil
}

// ensureNoActiveRequest enforces mutual exclusion: one live return or
// replacement per item. The conflict carries the blocking request's id.
func (s *ReturnsService) ensureNoActiveRequest(tx *gorm.DB, itemID uuid.UUID) error {
	var existingReturns []models.ReturnRequest
	if err := tx.Where("order_item_id = ?", itemID).Find(&existingReturns).Error; err != nil {
		return fmt.Errorf("returns.ensureNoActiveRequest: %w", err)
	}
	for _, existing := range existingReturns {
		if models.ActiveRequestStatus(existing.Status) {
			return &models.ConflictError{
				Reason:     "an active return request already exists for this item",
				ExistingID: existing.ID,
			}
		}
	}

	var existingReplacements []models.ReplacementRequest
	if err := tx.Where("order_item_id = ?", itemID).Find(&existingReplacements).Error; err != nil {
		return fmt.Errorf("returns.ensureNoActiveRequest: %w", err)
	}
	for _, existing := range existingReplacements {
		if models.ActiveRequestStatus(existing.Status) {
			return &models.ConflictError{
				Reason:     "an active replacement request already exists for this item",
				ExistingID: existing.ID,
			}
		}
	}
	return nil
}

func (s *ReturnsService) deliveryAgent(ctx context.Context, actor models.Actor) (*models.DeliveryMan, error) {
	if actor.Role != models.RoleDelivery {
		return nil, models.Validationf("role %s may not collect pickups", actor.Role)
	}
	var dm models.DeliveryMan
	if err := s.db.WithContext(ctx).First(&dm, "user_id = ?", actor.UserID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.Validationf("no delivery agent profile for this user")
		}
		return nil, fmt.Errorf("returns.deliveryAgent: %w", err)
	}
	return &dm, nil
}

func inspectionAllowed(actor models.Actor, decision string) error {
	if actor.Role != models.RoleWarehouse && actor.Role != models.RoleAdmin {
		return models.Validationf("role %s may not inspect requests", actor.Role)
	}
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return models.Validationf("decision must be %s or %s", models.DecisionApproved, models.DecisionRejected)
	}
	return nil
}

func resolutionAllowed(actor models.Actor, decision string) error {
	if actor.Role != models.RoleAdmin {
		return models.Validationf("only admins may resolve requests")
	}
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return models.Validationf("decision must be %s or %s", models.DecisionApproved, models.DecisionRejected)
	}
	return nil
}
