package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/models"
)

type transitionKey struct {
	from string
	to   string
}

// transitionRoles is the single source of truth for the item pipeline: which
// actor roles may move an item from one status to the next. Checked once
// centrally instead of being re-implemented per endpoint.
var transitionRoles = map[transitionKey][]string{
	{models.ItemPending, models.ItemPicked}:         {models.RoleWarehouse},
	{models.ItemPicked, models.ItemPacked}:          {models.RoleWarehouse},
	{models.ItemPacked, models.ItemShipped}:         {models.RoleWarehouse},
	{models.ItemShipped, models.ItemOutForDelivery}: {models.RoleDelivery, models.RoleAdmin, models.RoleSystem},
	{models.ItemOutForDelivery, models.ItemDelivered}: {models.RoleDelivery, models.RoleSystem},
	{models.ItemDelivered, models.ItemRefunded}:       {models.RoleAdmin, models.RoleSystem},
	{models.ItemDelivered, models.ItemReplaced}:       {models.RoleAdmin, models.RoleSystem},
}

// timestampColumn records when an item entered the given status.
var timestampColumn = map[string]string{
	models.ItemPicked:         "picked_at",
	models.ItemPacked:         "packed_at",
	models.ItemShipped:        "shipped_at",
	models.ItemOutForDelivery: "out_for_delivery_at",
	models.ItemDelivered:      "delivered_at",
	models.ItemFailed:         "failed_at",
}

// FulfillmentService drives the per-item pick/pack/ship/deliver pipeline and
// keeps the order-level status derived from its items.
type FulfillmentService struct {
	db *gorm.DB
}

// NewFulfillmentService constructs FulfillmentService.
func NewFulfillmentService(db *gorm.DB) *FulfillmentService {
	return &FulfillmentService{db: db}
}

// Transition moves an item from the expected status to the next one. The
// expected status is compare-and-swapped so two staff members can never both
// claim the same step; a mismatch reports the item's actual status.
func (s *FulfillmentService) Transition(ctx context.Context, itemID uuid.UUID, expected, next string, actor models.Actor, comment string) (*models.OrderItem, []Event, error) {
	var item *models.OrderItem
	var events []Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, _, events, err = s.transitionTx(tx, itemID, expected, next, actor, comment)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return item, events, nil
}

// transitionTx is the transition core. It runs inside the caller's
// transaction so follow-up mutations (agent credit, COD payment) can commit
// or roll back together with the item move. Returns the order with its
// freshly derived status.
func (s *FulfillmentService) transitionTx(tx *gorm.DB, itemID uuid.UUID, expected, next string, actor models.Actor, comment string) (*models.OrderItem, *models.Order, []Event, error) {
	allowed, ok := transitionRoles[transitionKey{expected, next}]
	if !ok {
		return nil, nil, nil, &models.InvalidTransitionError{From: expected, To: next}
	}
	if !roleAllowed(actor.Role, allowed) {
		return nil, nil, nil, models.Validationf("role %s may not move items from %s to %s", actor.Role, expected, next)
	}

	var item models.OrderItem
	updates := map[string]any{"status": next, "updated_at": time.Now()}
	if col, ok := timestampColumn[next]; ok {
		updates[col] = time.Now()
	}

	res := tx.Model(&models.OrderItem{}).
		Where("id = ? AND status = ?", itemID, expected).
		Updates(updates)
	if res.Error != nil {
		return nil, nil, nil, fmt.Errorf("fulfillment.transitionTx: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, nil, nil, models.ErrNotFound
			}
			return nil, nil, nil, fmt.Errorf("fulfillment.transitionTx: %w", err)
		}
		return nil, nil, nil, &models.InvalidTransitionError{
			From:   item.Status,
			To:     next,
			Reason: fmt.Sprintf("cannot move item to %s: item is %s, requires %s", next, item.Status, expected),
		}
	}

	if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("fulfillment.transitionTx: %w", err)
	}

	if err := s.appendLog(tx, &item, actor, expected, next, comment); err != nil {
		return nil, nil, nil, err
	}

	order, err := s.deriveOrderStatus(tx, item.OrderID)
	if err != nil {
		return nil, nil, nil, err
	}

	var events []Event
	if next == models.ItemDelivered {
		events = append(events, itemEvent(models.EventItemDelivered, order.UserID, order.ID, item.ID,
			fmt.Sprintf("Item %s from order %s was delivered", item.ProductName, order.OrderNumber)))
	}
	return &item, order, events, nil
}

// MarkFailed branches an item to failed from any pre-delivered status.
func (s *FulfillmentService) MarkFailed(ctx context.Context, itemID uuid.UUID, actor models.Actor, comment string) (*models.OrderItem, error) {
	switch actor.Role {
	case models.RoleDelivery, models.RoleAdmin, models.RoleSystem:
	default:
		return nil, models.Validationf("role %s may not mark items failed", actor.Role)
	}
	return s.branch(ctx, itemID, models.ItemFailed, actor, comment)
}

// branch moves an item onto a side branch (failed/cancelled) if it has not
// been delivered yet.
func (s *FulfillmentService) branch(ctx context.Context, itemID uuid.UUID, next string, actor models.Actor, comment string) (*models.OrderItem, error) {
	var item models.OrderItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": next, "updated_at": time.Now()}
		if col, ok := timestampColumn[next]; ok {
			updates[col] = time.Now()
		}

		res := tx.Model(&models.OrderItem{}).
			Where("id = ? AND status IN ?", itemID, pipelineStatuses()).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("fulfillment.branch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return models.ErrNotFound
				}
				return err
			}
			return &models.InvalidTransitionError{
				From:   item.Status,
				To:     next,
				Reason: fmt.Sprintf("cannot mark a %s item as %s", item.Status, next),
			}
		}

		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			return fmt.Errorf("fulfillment.branch: %w", err)
		}
		if err := s.appendLog(tx, &item, actor, "", next, comment); err != nil {
			return err
		}
		_, err := s.deriveOrderStatus(tx, item.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CancelItems moves every still-cancellable item of an order to cancelled.
// Runs inside the caller's transaction so the item branch and the order
// status mutation commit together.
func (s *FulfillmentService) CancelItems(tx *gorm.DB, orderID uuid.UUID, actor models.Actor, reason string) error {
	res := tx.Model(&models.OrderItem{}).
		Where("order_id = ? AND status IN ?", orderID, pipelineStatuses()).
		Updates(map[string]any{"status": models.ItemCancelled, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("fulfillment.CancelItems: %w", res.Error)
	}

	actorID := actorIDPtr(actor)
	return tx.Create(&models.WarehouseLog{
		OrderID:   orderID,
		ActorID:   actorID,
		ActorRole: actor.Role,
		Action:    "cancel",
		ToStatus:  models.ItemCancelled,
		Comment:   reason,
	}).Error
}

// MarkResolved branches a delivered item to refunded or replaced. Used by the
// post-sale workflow once a request reaches its terminal decision.
func (s *FulfillmentService) MarkResolved(tx *gorm.DB, itemID uuid.UUID, next string, actor models.Actor) error {
	if next != models.ItemRefunded && next != models.ItemReplaced {
		return models.Validationf("unsupported resolution status %s", next)
	}

	res := tx.Model(&models.OrderItem{}).
		Where("id = ? AND status = ?", itemID, models.ItemDelivered).
		Updates(map[string]any{"status": next, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("fulfillment.MarkResolved: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var item models.OrderItem
		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			return models.ErrNotFound
		}
		return &models.InvalidTransitionError{
			From:   item.Status,
			To:     next,
			Reason: fmt.Sprintf("only delivered items can be marked %s, item is %s", next, item.Status),
		}
	}

	var item models.OrderItem
	if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
		return err
	}
	return s.appendLog(tx, &item, actor, models.ItemDelivered, next, "")
}

// deriveOrderStatus recomputes the order status from its items. The order
// never carries an independently set pipeline status.
func (s *FulfillmentService) deriveOrderStatus(tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := tx.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		return nil, fmt.Errorf("fulfillment.deriveOrderStatus: %w", err)
	}
	if order.Status == models.OrderCancelled {
		return &order, nil
	}

	derived := DeriveOrderStatus(order.Items)
	if derived != "" && derived != order.Status {
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("status", derived).Error; err != nil {
			return nil, fmt.Errorf("fulfillment.deriveOrderStatus: %w", err)
		}
		order.Status = derived
	}
	return &order, nil
}

// DeriveOrderStatus folds item statuses into the aggregate order status.
// Side-branch items (cancelled/failed/refunded/replaced) no longer count
// toward the pipeline.
func DeriveOrderStatus(items []models.OrderItem) string {
	var active []string
	for _, item := range items {
		switch item.Status {
		case models.ItemCancelled, models.ItemFailed, models.ItemRefunded, models.ItemReplaced:
			continue
		}
		active = append(active, item.Status)
	}
	if len(active) == 0 {
		return ""
	}

	all := func(statuses ...string) bool {
		for _, got := range active {
			match := false
			for _, want := range statuses {
				if got == want {
					match = true
					break
				}
			}
			if !match {
				return false
			}
		}
		return true
	}

	switch {
	case all(models.ItemDelivered):
		return models.OrderDelivered
	case all(models.ItemOutForDelivery, models.ItemDelivered):
		return models.OrderOutForDelivery
	case all(models.ItemShipped, models.ItemOutForDelivery, models.ItemDelivered):
		return models.OrderShipped
	}
	for _, status := range active {
		if status == models.ItemPicked || status == models.ItemPacked {
			return models.OrderProcessing
		}
	}
	return models.OrderPending
}

func (s *FulfillmentService) appendLog(tx *gorm.DB, item *models.OrderItem, actor models.Actor, from, to, comment string) error {
	entry := models.WarehouseLog{
		OrderID:     item.OrderID,
		OrderItemID: &item.ID,
		ActorID:     actorIDPtr(actor),
		ActorRole:   actor.Role,
		Action:      to,
		FromStatus:  from,
		ToStatus:    to,
		Comment:     comment,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("fulfillment.appendLog: %w", err)
	}
	return nil
}

func pipelineStatuses() []string {
	return []string{
		models.ItemPending,
		models.ItemPicked,
		models.ItemPacked,
		models.ItemShipped,
		models.ItemOutForDelivery,
	}
}

func roleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == role {
			return true
		}
	}
	return false
}

func actorIDPtr(actor models.Actor) *uuid.UUID {
	if actor.UserID == uuid.Nil {
		return nil
	}
	id := actor.UserID
	return &id
}
