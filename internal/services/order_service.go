package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
)

// CreateOrderItemRequest is one checkout line.
type CreateOrderItemRequest struct {
	ProductVariantID uuid.UUID
	Quantity         int
}

// CreateOrderRequest carries everything the aggregate needs at checkout.
type CreateOrderRequest struct {
	DeliveryAddressID uuid.UUID
	PaymentMethod     string
	ReferralCode      string
	Items             []CreateOrderItemRequest
}

// OrderService owns the order aggregate: creation with stock reservation,
// totals, payment marking and cancellation.
type OrderService struct {
	db          *gorm.DB
	inventory   *InventoryService
	fulfillment *FulfillmentService
	gateway     PaymentGateway
	commission  *CommissionService
	refunds     *RefundService

	freeDeliveryThreshold decimal.Decimal
	deliveryCharge        decimal.Decimal
}

// NewOrderService constructs OrderService.
func NewOrderService(db *gorm.DB, inventory *InventoryService, fulfillment *FulfillmentService, gateway PaymentGateway, commission *CommissionService, refunds *RefundService, freeDeliveryThreshold, deliveryCharge decimal.Decimal) *OrderService {
	return &OrderService{
		db:                    db,
		inventory:             inventory,
		fulfillment:           fulfillment,
		gateway:               gateway,
		commission:            commission,
		refunds:               refunds,
		freeDeliveryThreshold: freeDeliveryThreshold,
		deliveryCharge:        deliveryCharge,
	}
}

// Create assembles the order and its items atomically, reserving stock per
// item inside the same transaction. The delivery charge is snapshotted here.
func (s *OrderService) Create(ctx context.Context, userID uuid.UUID, req CreateOrderRequest) (*models.Order, []Event, error) {
	if req.PaymentMethod != models.PaymentCOD && req.PaymentMethod != models.PaymentOnline {
		return nil, nil, models.Validationf("payment method must be %s or %s", models.PaymentCOD, models.PaymentOnline)
	}
	if len(req.Items) == 0 {
		return nil, nil, models.Validationf("order must contain at least one item")
	}

	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var address models.UserAddress
		if err := tx.First(&address, "id = ? AND user_id = ?", req.DeliveryAddressID, userID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.Validationf("delivery address not found")
			}
			return fmt.Errorf("order.Create: %w", err)
		}

		order = models.Order{
			OrderNumber:         s.generateOrderNumber(),
			UserID:              userID,
			Status:              models.OrderPending,
			PlacedAt:            time.Now(),
			PaymentMethod:       req.PaymentMethod,
			DeliveryAddressID:   &address.ID,
			DeliveryAddressLine: address.AddressLine,
			DeliveryApartment:   address.Apartment,
			DeliveryCity:        address.City,
			DeliveryDistrict:    address.District,
			DeliveryPostalCode:  address.PostalCode,
		}

		if req.ReferralCode != "" {
			var promoter models.Promoter
			if err := tx.First(&promoter, "referral_code = ?", req.ReferralCode).Error; err == nil {
				order.PromoterID = &promoter.ID
			}
		}

		subtotal := decimal.Zero
		for _, line := range req.Items {
			var variant models.ProductVariant
			if err := tx.Preload("Product").First(&variant, "id = ?", line.ProductVariantID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return models.Validationf("product variant %s not found", line.ProductVariantID)
				}
				return fmt.Errorf("order.Create: %w", err)
			}

			if err := s.inventory.Reserve(tx, variant.ID, line.Quantity); err != nil {
				return err
			}

			lineTotal := variant.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
			item := models.OrderItem{
				ProductVariantID: &variant.ID,
				VariantLabel:     variant.Label,
				Quantity:         line.Quantity,
				UnitPrice:        variant.Price,
				LineTotal:        lineTotal,
				Status:           models.ItemPending,
			}
			if variant.Product != nil {
				item.ProductName = variant.Product.Name
			}
			subtotal = subtotal.Add(lineTotal)
			order.Items = append(order.Items, item)
		}

		order.Subtotal = subtotal
		order.DeliveryCharge = s.deliveryChargeFor(subtotal)
		order.Total = subtotal.Add(order.DeliveryCharge)

		if err := tx.Create(&order).Error; err != nil {
			return fmt.Errorf("order.Create: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	events := []Event{orderEvent(models.EventOrderPlaced, userID, order.ID,
		fmt.Sprintf("Order %s placed, total %s", order.OrderNumber, order.Total.StringFixed(2)))}
	return &order, events, nil
}

func (s *OrderService) deliveryChargeFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(s.freeDeliveryThreshold) {
		return decimal.Zero
	}
	return s.deliveryCharge
}

// InitiatePayment registers a gateway charge intent for an online order and
// stores its id. Reuses the existing intent on retry.
func (s *OrderService) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID) (*ChargeIntent, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != models.PaymentOnline {
		return nil, models.Validationf("order %s is cash on delivery", order.OrderNumber)
	}
	if order.IsPaid {
		return nil, models.Validationf("order %s is already paid", order.OrderNumber)
	}
	if order.GatewayOrderID != "" {
		return &ChargeIntent{ID: order.GatewayOrderID, Amount: order.Total, Currency: "INR", Receipt: order.OrderNumber}, nil
	}

	intent, err := s.gateway.CreateChargeIntent(ctx, order.Total, "INR", order.OrderNumber)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("gateway_order_id", intent.ID).Error; err != nil {
		return nil, fmt.Errorf("order.InitiatePayment: %w", err)
	}
	return intent, nil
}

// VerifyPayment checks the checkout callback signature, marks the order paid
// and applies the promoter commission.
func (s *OrderService) VerifyPayment(ctx context.Context, userID, orderID uuid.UUID, paymentID, signature string) (*models.Order, []Event, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.PaymentMethod != models.PaymentOnline {
		return nil, nil, models.Validationf("order %s is cash on delivery", order.OrderNumber)
	}
	if order.GatewayOrderID == "" {
		return nil, nil, models.Validationf("no payment was initiated for order %s", order.OrderNumber)
	}
	if !s.gateway.VerifySignature(order.GatewayOrderID, paymentID, signature) {
		return nil, nil, models.Validationf("payment signature verification failed")
	}

	if err := s.MarkPaid(ctx, order.ID, paymentID); err != nil {
		return nil, nil, err
	}
	if err := s.db.WithContext(ctx).First(order, "id = ?", order.ID).Error; err != nil {
		return nil, nil, fmt.Errorf("order.VerifyPayment: %w", err)
	}

	events := []Event{orderEvent(models.EventOrderPaid, order.UserID, order.ID,
		fmt.Sprintf("Payment received for order %s", order.OrderNumber))}
	return order, events, nil
}

// MarkPaid flips is_paid once and applies the commission. Safe to call from
// both the online verification path and COD collection at handoff.
func (s *OrderService) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.markPaidTx(tx, orderID, paymentID)
	})
}

// markPaidTx is the payment flip inside the caller's transaction, so the
// delivery completion path can commit it together with the item move.
func (s *OrderService) markPaidTx(tx *gorm.DB, orderID uuid.UUID, paymentID string) error {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND is_paid = ?", orderID, false).
		Updates(map[string]any{
			"is_paid":    true,
			"paid_at":    time.Now(),
			"payment_id": paymentID,
		})
	if res.Error != nil {
		return fmt.Errorf("order.MarkPaid: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil // already paid
	}
	return s.commission.applyTx(tx, orderID)
}

// Cancel cancels an unshipped order, branching every item and restoring
// stock exactly once. Refund initiation for paid orders happens after the
// local transaction commits, so a gateway failure never corrupts the
// cancelled state; the refund stays retryable.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, actor models.Actor, reason string) (*models.Order, []Event, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return models.ErrNotFound
			}
			return fmt.Errorf("order.Cancel: %w", err)
		}

		switch actor.Role {
		case models.RoleAdmin, models.RoleSystem:
		case models.RoleCustomer:
			if order.UserID != actor.UserID {
				return models.ErrNotFound // avoid leaking another user's order
			}
		default:
			return models.Validationf("role %s may not cancel orders", actor.Role)
		}

		if order.Status == models.OrderCancelled {
			return nil // idempotent: restock already ran on the first cancel
		}

		for _, item := range order.Items {
			switch item.Status {
			case models.ItemShipped, models.ItemOutForDelivery, models.ItemDelivered:
				return &models.InvalidTransitionError{
					From:   order.Status,
					To:     models.OrderCancelled,
					Reason: "cannot cancel an order whose items have shipped",
				}
			}
		}

		now := time.Now()
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Updates(map[string]any{
				"status":        models.OrderCancelled,
				"cancel_reason": reason,
				"cancelled_by":  actor.Role,
				"cancelled_at":  now,
			}).Error; err != nil {
			return fmt.Errorf("order.Cancel: %w", err)
		}
		order.Status = models.OrderCancelled

		if err := s.fulfillment.CancelItems(tx, order.ID, actor, reason); err != nil {
			return err
		}

		return s.inventory.Restock(tx, &order)
	})
	if err != nil {
		return nil, nil, err
	}

	events := []Event{orderEvent(models.EventOrderCancelled, order.UserID, order.ID,
		fmt.Sprintf("Order %s was cancelled: %s", order.OrderNumber, reason))}

	if order.IsPaid {
		refundEvents, err := s.refunds.ProcessOrderRefund(ctx, order.ID, order.Total)
		if err != nil {
			// Cancellation is committed; surface the gateway failure so the
			// caller can retry the refund on its own.
			return &order, events, err
		}
		events = append(events, refundEvents...)
	}
	return &order, events, nil
}

// Get returns one order, enforcing ownership for customers.
func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID, actor models.Actor) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("order.Get: %w", err)
	}
	if actor.Role == models.RoleCustomer && order.UserID != actor.UserID {
		return nil, models.ErrNotFound
	}
	return &order, nil
}

// ListForUser returns a user's orders, newest first.
func (s *OrderService) ListForUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]models.Order, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("order.ListForUser: %w", err)
	}

	var orders []models.Order
	if err := query.Preload("Items").
		Order("placed_at desc").
		Limit(limit).Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("order.ListForUser: %w", err)
	}
	return orders, total, nil
}

func (s *OrderService) ownedOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).First(&order, "id = ? AND user_id = ?", orderID, userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("order.ownedOrder: %w", err)
	}
	return &order, nil
}

func (s *OrderService) generateOrderNumber() string {
	return fmt.Sprintf("ORD-%09d", time.Now().UnixNano()%1000000000)
}
