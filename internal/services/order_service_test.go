package services

import (
	"context"
	"errors"
	"testing"

	"github.com/example/fulfillment/internal/models"
)

func TestCreateOrderTotalsAndDeliveryCharge(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)

	// Below the free-delivery threshold the flat charge applies.
	cheap := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, cheap, 2, models.PaymentCOD, "")
	if !order.Subtotal.Equal(mustDecimal(t, "200")) {
		t.Fatalf("subtotal = %s, want 200", order.Subtotal)
	}
	if !order.DeliveryCharge.Equal(mustDecimal(t, "40")) {
		t.Fatalf("delivery charge = %s, want 40", order.DeliveryCharge)
	}
	if !order.Total.Equal(mustDecimal(t, "240")) {
		t.Fatalf("total = %s, want 240", order.Total)
	}

	// At or above the threshold delivery is free.
	pricey := seedVariant(t, env.db, "400", 10)
	order = placeOrder(t, env, customer, pricey, 2, models.PaymentCOD, "")
	if !order.DeliveryCharge.IsZero() {
		t.Fatalf("delivery charge = %s, want 0", order.DeliveryCharge)
	}
	if !order.Total.Equal(mustDecimal(t, "800")) {
		t.Fatalf("total = %s, want 800", order.Total)
	}
}

func TestCreateOrderReservesStockAtomically(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	address := seedAddress(t, env.db, customer.ID)
	scarce := seedVariant(t, env.db, "50", 1)
	plenty := seedVariant(t, env.db, "50", 10)

	_, _, err := env.orders.Create(context.Background(), customer.ID, CreateOrderRequest{
		DeliveryAddressID: address.ID,
		PaymentMethod:     models.PaymentCOD,
		Items: []CreateOrderItemRequest{
			{ProductVariantID: plenty.ID, Quantity: 2},
			{ProductVariantID: scarce.ID, Quantity: 3},
		},
	})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	// The failed line must have rolled back the successful one.
	var got models.ProductVariant
	if err := env.db.First(&got, "id = ?", plenty.ID).Error; err != nil {
		t.Fatalf("reload variant: %v", err)
	}
	if got.Stock != 10 {
		t.Fatalf("stock = %d, want 10 after rollback", got.Stock)
	}
}

func TestCreateOrderSnapshotsVariantFields(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 2, models.PaymentCOD, "")

	// A later price change must not alter the recorded order.
	if err := env.db.Model(&models.ProductVariant{}).
		Where("id = ?", variant.ID).
		Update("price", mustDecimal(t, "999")).Error; err != nil {
		t.Fatalf("update price: %v", err)
	}

	got := reloadOrder(t, env.db, order.ID)
	if !got.Items[0].UnitPrice.Equal(mustDecimal(t, "100")) {
		t.Fatalf("unit price = %s, want snapshot 100", got.Items[0].UnitPrice)
	}
	if !got.Items[0].LineTotal.Equal(mustDecimal(t, "200")) {
		t.Fatalf("line total = %s, want 200", got.Items[0].LineTotal)
	}
	if got.Items[0].ProductName != "Widget" {
		t.Fatalf("product name = %q, want snapshot", got.Items[0].ProductName)
	}
}

func TestCancelRestoresStockExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 3, models.PaymentCOD, "")

	var afterReserve models.ProductVariant
	env.db.First(&afterReserve, "id = ?", variant.ID)
	if afterReserve.Stock != 7 {
		t.Fatalf("stock after reserve = %d, want 7", afterReserve.Stock)
	}

	actor := actorFor(customer)
	if _, _, err := env.orders.Cancel(context.Background(), order.ID, actor, "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Second cancel is an idempotent no-op; stock must not double-credit.
	if _, _, err := env.orders.Cancel(context.Background(), order.ID, actor, "again"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	var got models.ProductVariant
	env.db.First(&got, "id = ?", variant.ID)
	if got.Stock != 10 {
		t.Fatalf("stock = %d, want 10 restored exactly once", got.Stock)
	}

	reloaded := reloadOrder(t, env.db, order.ID)
	if reloaded.Status != models.OrderCancelled {
		t.Fatalf("status = %s, want cancelled", reloaded.Status)
	}
	for _, item := range reloaded.Items {
		if item.Status != models.ItemCancelled {
			t.Fatalf("item status = %s, want cancelled", item.Status)
		}
	}
}

func TestCancelRejectedAfterShipment(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")
	advanceItem(t, env, order.Items[0].ID, models.ItemShipped)

	_, _, err := env.orders.Cancel(context.Background(), order.ID, actorFor(customer), "too late")
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestCancelOtherCustomersOrderNotFound(t *testing.T) {
	env := newTestEnv(t)
	owner := seedUser(t, env.db, models.RoleCustomer)
	stranger := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, owner, variant, 1, models.PaymentCOD, "")

	_, _, err := env.orders.Cancel(context.Background(), order.ID, actorFor(stranger), "not mine")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelPaidOnlineOrderInitiatesRefund(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "300", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentOnline, "")

	if _, err := env.orders.InitiatePayment(context.Background(), customer.ID, order.ID); err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	if _, _, err := env.orders.VerifyPayment(context.Background(), customer.ID, order.ID, "pay_123", "valid-signature"); err != nil {
		t.Fatalf("verify payment: %v", err)
	}

	if _, _, err := env.orders.Cancel(context.Background(), order.ID, actorFor(customer), "refund me"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := reloadOrder(t, env.db, order.ID)
	if got.RefundStatus != models.RefundProcessed || !got.RefundFinalized || !got.IsRefunded {
		t.Fatalf("refund state = %s/%v/%v, want processed/finalized/refunded",
			got.RefundStatus, got.RefundFinalized, got.IsRefunded)
	}
	if env.gateway.refundCalls != 1 {
		t.Fatalf("gateway refund calls = %d, want 1", env.gateway.refundCalls)
	}
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "300", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentOnline, "")

	if _, err := env.orders.InitiatePayment(context.Background(), customer.ID, order.ID); err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	_, _, err := env.orders.VerifyPayment(context.Background(), customer.ID, order.ID, "pay_123", "forged")
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}

	got := reloadOrder(t, env.db, order.ID)
	if got.IsPaid {
		t.Fatal("order marked paid despite bad signature")
	}
}

func TestInitiatePaymentReusesIntent(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "300", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentOnline, "")

	first, err := env.orders.InitiatePayment(context.Background(), customer.ID, order.ID)
	if err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	second, err := env.orders.InitiatePayment(context.Background(), customer.ID, order.ID)
	if err != nil {
		t.Fatalf("retry initiate payment: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("intent ids differ: %s vs %s", first.ID, second.ID)
	}
}
