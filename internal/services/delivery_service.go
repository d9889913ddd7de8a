package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
)

// AssignedOrder is one successful assignment in a bulk request.
type AssignedOrder struct {
	OrderNumber string    `json:"order_number"`
	OrderID     uuid.UUID `json:"order_id"`
}

// SkippedOrder reports why one order number in a bulk request was not
// assigned. Skips never abort the rest of the batch.
type SkippedOrder struct {
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// BulkAssignResult returns both successes and skips to the caller.
type BulkAssignResult struct {
	Assigned []AssignedOrder `json:"assigned"`
	Skipped  []SkippedOrder  `json:"skipped"`
}

// DeliveryService covers the delivery agent surface: bulk order assignment,
// OTP-verified handoff and the agent's running totals.
type DeliveryService struct {
	db          *gorm.DB
	fulfillment *FulfillmentService
	otps        *OTPService
	orders      *OrderService
}

// NewDeliveryService constructs DeliveryService.
func NewDeliveryService(db *gorm.DB, fulfillment *FulfillmentService, otps *OTPService, orders *OrderService) *DeliveryService {
	return &DeliveryService{db: db, fulfillment: fulfillment, otps: otps, orders: orders}
}

// AssignOrders assigns a batch of order numbers to a delivery agent. Each
// order is all-or-nothing in its own transaction; orders failing a
// precondition are reported as skipped with the specific reason.
func (s *DeliveryService) AssignOrders(ctx context.Context, actor models.Actor, deliveryManID uuid.UUID, orderNumbers []string) (*BulkAssignResult, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleWarehouse {
		return nil, models.Validationf("role %s may not assign deliveries", actor.Role)
	}

	var agent models.DeliveryMan
	if err := s.db.WithContext(ctx).First(&agent, "id = ?", deliveryManID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("delivery.AssignOrders: %w", err)
	}
	if !agent.IsActive {
		return nil, models.Validationf("delivery agent is not active")
	}

	result := &BulkAssignResult{}
	for _, number := range orderNumbers {
		if err := s.assignOne(ctx, number, &agent); err != nil {
			result.Skipped = append(result.Skipped, SkippedOrder{OrderNumber: number, Reason: err.Error()})
			continue
		}
		var order models.Order
		if err := s.db.WithContext(ctx).Select("id").First(&order, "order_number = ?", number).Error; err == nil {
			result.Assigned = append(result.Assigned, AssignedOrder{OrderNumber: number, OrderID: order.ID})
		}
	}
	return result, nil
}

func (s *DeliveryService) assignOne(ctx context.Context, orderNumber string, agent *models.DeliveryMan) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Preload("Items").Preload("DeliveredBy.User").
			First(&order, "order_number = ?", orderNumber).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return fmt.Errorf("order not found")
			}
			return fmt.Errorf("delivery.assignOne: %w", err)
		}

		if order.Status != models.OrderShipped && order.Status != models.OrderOutForDelivery {
			return fmt.Errorf("order is %s", order.Status)
		}
		if order.DeliveredByID != nil {
			email := "another agent"
			if order.DeliveredBy != nil && order.DeliveredBy.User != nil {
				email = order.DeliveredBy.User.Email
			}
			return fmt.Errorf("already assigned to %s", email)
		}
		for _, item := range order.Items {
			if models.TerminalItemStatus(item.Status) {
				continue
			}
			if item.Status != models.ItemShipped {
				return fmt.Errorf("items not yet shipped")
			}
		}

		if err := s.claimOrder(tx, order.ID, agent.ID); err != nil {
			return err
		}

		res := tx.Model(&models.OrderItem{}).
			Where("order_id = ? AND status = ?", order.ID, models.ItemShipped).
			Update("status", models.ItemOutForDelivery)
		if res.Error != nil {
			return fmt.Errorf("delivery.assignOne: %w", res.Error)
		}

		if err := tx.Create(&models.WarehouseLog{
			OrderID:    order.ID,
			ActorID:    &agent.UserID,
			ActorRole:  models.RoleDelivery,
			Action:     "assign",
			FromStatus: models.ItemShipped,
			ToStatus:   models.ItemOutForDelivery,
			Comment:    fmt.Sprintf("assigned to agent %s", agent.ID),
		}).Error; err != nil {
			return fmt.Errorf("delivery.assignOne: %w", err)
		}

		_, err := s.fulfillment.deriveOrderStatus(tx, order.ID)
		return err
	})
}

// claimOrder compare-and-swaps the order's delivery agent. The NULL guard is
// the authoritative check: a concurrent assignment that slipped past the
// precondition read loses here and reports the winning agent.
func (s *DeliveryService) claimOrder(tx *gorm.DB, orderID, agentID uuid.UUID) error {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND delivered_by_id IS NULL", orderID).
		Update("delivered_by_id", agentID)
	if res.Error != nil {
		return fmt.Errorf("delivery.claimOrder: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		email := "another agent"
		var current models.Order
		if err := tx.Preload("DeliveredBy.User").First(&current, "id = ?", orderID).Error; err == nil {
			if current.DeliveredBy != nil && current.DeliveredBy.User != nil {
				email = current.DeliveredBy.User.Email
			}
		}
		return fmt.Errorf("already assigned to %s", email)
	}
	return nil
}

// RequestHandoffOTP issues a fresh delivery-handoff code for an item the
// agent is about to hand over.
func (s *DeliveryService) RequestHandoffOTP(ctx context.Context, agent models.Actor, itemID uuid.UUID) (*models.Notification, error) {
	item, order, err := s.assignedItem(ctx, agent, itemID)
	if err != nil {
		return nil, err
	}
	_ = order
	if item.Status != models.ItemOutForDelivery {
		return nil, &models.InvalidTransitionError{
			From:   item.Status,
			To:     models.ItemDelivered,
			Reason: "handoff code requires the item to be out for delivery",
		}
	}

	row, _, err := s.otps.Generate(ctx, itemID, models.EventDeliveryHandoff)
	return row, err
}

// CompleteDelivery verifies the customer's handoff code and moves the item
// to delivered. When the whole order lands, the agent's totals are credited
// and COD orders are marked paid (which applies the promoter commission).
// The item move, credit and payment flip commit in one transaction so a
// transient failure leaves the item retryable.
func (s *DeliveryService) CompleteDelivery(ctx context.Context, agent models.Actor, itemID uuid.UUID, code string) (*models.OrderItem, []Event, error) {
	_, _, err := s.assignedItem(ctx, agent, itemID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.otps.Verify(ctx, itemID, models.EventDeliveryHandoff, code); err != nil {
		return nil, nil, err
	}

	var item *models.OrderItem
	var events []Event
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order *models.Order
		var err error
		item, order, events, err = s.fulfillment.transitionTx(tx, itemID, models.ItemOutForDelivery, models.ItemDelivered, agent, "otp verified handoff")
		if err != nil {
			return err
		}

		if order.Status == models.OrderDelivered && order.DeliveredByID != nil {
			if err := s.creditAgent(tx, order); err != nil {
				return err
			}
			if order.PaymentMethod == models.PaymentCOD {
				if err := s.orders.markPaidTx(tx, order.ID, "cod-collected"); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return item, events, nil
}

func (s *DeliveryService) creditAgent(tx *gorm.DB, order *models.Order) error {
	updates := map[string]any{
		"total_deliveries": gorm.Expr("total_deliveries + 1"),
		"total_earnings":   gorm.Expr("total_earnings + ?", order.DeliveryCharge),
	}
	if order.PaymentMethod == models.PaymentCOD {
		updates["cash_collected"] = gorm.Expr("cash_collected + ?", order.Total)
	}
	if err := tx.Model(&models.DeliveryMan{}).
		Where("id = ?", *order.DeliveredByID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("delivery.creditAgent: %w", err)
	}
	return nil
}

// ListAssignedOrders returns the agent's open assignments, newest first.
func (s *DeliveryService) ListAssignedOrders(ctx context.Context, agent models.Actor, limit, offset int) ([]models.Order, int64, error) {
	dm, err := s.agentForActor(ctx, agent)
	if err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Model(&models.Order{}).Where("delivered_by_id = ?", dm.ID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("delivery.ListAssignedOrders: %w", err)
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Order("updated_at desc").
		Limit(limit).Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("delivery.ListAssignedOrders: %w", err)
	}
	return orders, total, nil
}

func (s *DeliveryService) agentForActor(ctx context.Context, actor models.Actor) (*models.DeliveryMan, error) {
	var dm models.DeliveryMan
	if err := s.db.WithContext(ctx).First(&dm, "user_id = ?", actor.UserID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.Validationf("no delivery agent profile for this user")
		}
		return nil, fmt.Errorf("delivery.agentForActor: %w", err)
	}
	return &dm, nil
}

// assignedItem loads an item and checks the acting agent owns the order's
// assignment.
func (s *DeliveryService) assignedItem(ctx context.Context, actor models.Actor, itemID uuid.UUID) (*models.OrderItem, *models.Order, error) {
	if actor.Role != models.RoleDelivery {
		return nil, nil, models.Validationf("role %s may not perform deliveries", actor.Role)
	}

	var item models.OrderItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, models.ErrNotFound
		}
		return nil, nil, fmt.Errorf("delivery.assignedItem: %w", err)
	}

	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ?", item.OrderID).Error; err != nil {
		return nil, nil, fmt.Errorf("delivery.assignedItem: %w", err)
	}

	dm, err := s.agentForActor(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	if order.DeliveredByID == nil || *order.DeliveredByID != dm.ID {
		return nil, nil, models.ErrForbidden
	}
	return &item, &order, nil
}
