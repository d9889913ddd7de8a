package services

import (
	"context"
	"errors"
	"testing"

	"github.com/example/fulfillment/internal/models"
)

func TestTransitionHappyPathDerivesOrderStatus(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")

	itemID := order.Items[0].ID
	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))

	if _, _, err := env.fulfillment.Transition(context.Background(), itemID, models.ItemPending, models.ItemPicked, warehouse, ""); err != nil {
		t.Fatalf("pick: %v", err)
	}

	got := reloadOrder(t, env.db, order.ID)
	if got.Status != models.OrderProcessing {
		t.Fatalf("order status = %s, want %s", got.Status, models.OrderProcessing)
	}
	if got.Items[0].PickedAt == nil {
		t.Fatal("picked_at not stamped")
	}

	advanceItem(t, env, itemID, models.ItemDelivered)
	got = reloadOrder(t, env.db, order.ID)
	if got.Status != models.OrderDelivered {
		t.Fatalf("order status = %s, want %s", got.Status, models.OrderDelivered)
	}
	if got.Items[0].DeliveredAt == nil {
		t.Fatal("delivered_at not stamped")
	}
}

func TestTransitionRejectsWrongRole(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")

	_, _, err := env.fulfillment.Transition(context.Background(), order.Items[0].ID,
		models.ItemPending, models.ItemPicked, actorFor(customer), "")
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestTransitionRejectsSkippedStep(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")
	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))

	// pending -> packed is not a defined edge.
	_, _, err := env.fulfillment.Transition(context.Background(), order.Items[0].ID,
		models.ItemPending, models.ItemPacked, warehouse, "")
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}

	// packed -> shipped is defined but the item is still pending.
	_, _, err = env.fulfillment.Transition(context.Background(), order.Items[0].ID,
		models.ItemPacked, models.ItemShipped, warehouse, "")
	if !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if transitionErr.From != models.ItemPending {
		t.Fatalf("reported from = %s, want actual status %s", transitionErr.From, models.ItemPending)
	}
}

func TestTransitionWritesAuditLog(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")
	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))

	if _, _, err := env.fulfillment.Transition(context.Background(), order.Items[0].ID,
		models.ItemPending, models.ItemPicked, warehouse, "aisle 3"); err != nil {
		t.Fatalf("pick: %v", err)
	}

	var logs []models.WarehouseLog
	if err := env.db.Where("order_item_id = ?", order.Items[0].ID).Find(&logs).Error; err != nil {
		t.Fatalf("load logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("log count = %d, want 1", len(logs))
	}
	entry := logs[0]
	if entry.FromStatus != models.ItemPending || entry.ToStatus != models.ItemPicked {
		t.Fatalf("log transition %s -> %s, want pending -> picked", entry.FromStatus, entry.ToStatus)
	}
	if entry.ActorRole != models.RoleWarehouse || entry.Comment != "aisle 3" {
		t.Fatalf("log actor/comment = %s/%s", entry.ActorRole, entry.Comment)
	}
}

func TestMarkFailedOnlyBeforeDelivery(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")
	admin := actorFor(seedUser(t, env.db, models.RoleAdmin))

	item, err := env.fulfillment.MarkFailed(context.Background(), order.Items[0].ID, admin, "damaged in transit")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if item.Status != models.ItemFailed {
		t.Fatalf("item status = %s, want failed", item.Status)
	}

	// A delivered item can no longer fail.
	order2 := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")
	advanceItem(t, env, order2.Items[0].ID, models.ItemDelivered)
	_, err = env.fulfillment.MarkFailed(context.Background(), order2.Items[0].ID, admin, "late")
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestDeriveOrderStatusMixedItems(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all delivered", []string{models.ItemDelivered, models.ItemDelivered}, models.OrderDelivered},
		{"delivered and out", []string{models.ItemDelivered, models.ItemOutForDelivery}, models.OrderOutForDelivery},
		{"shipped and out", []string{models.ItemShipped, models.ItemOutForDelivery}, models.OrderShipped},
		{"picking", []string{models.ItemPicked, models.ItemPending}, models.OrderProcessing},
		{"untouched", []string{models.ItemPending, models.ItemPending}, models.OrderPending},
		{"side branches ignored", []string{models.ItemDelivered, models.ItemCancelled, models.ItemFailed}, models.OrderDelivered},
		{"all side branches", []string{models.ItemCancelled, models.ItemFailed}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items := make([]models.OrderItem, 0, len(tc.statuses))
			for _, status := range tc.statuses {
				items = append(items, models.OrderItem{Status: status})
			}
			if got := DeriveOrderStatus(items); got != tc.want {
				t.Fatalf("DeriveOrderStatus = %q, want %q", got, tc.want)
			}
		})
	}
}
