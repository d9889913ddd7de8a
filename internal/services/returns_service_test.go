package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/fulfillment/internal/models"
)

// deliveredCODOrder places and fully delivers a single-item COD order.
func deliveredCODOrder(t *testing.T, env *testEnv) (*models.User, *models.Order) {
	t.Helper()
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "100", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")
	advanceItem(t, env, order.Items[0].ID, models.ItemDelivered)
	return customer, reloadOrder(t, env.db, order.ID)
}

func TestCreateReturnComputesProRataRefund(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	address := seedAddress(t, env.db, customer.ID)
	variantA := seedVariant(t, env.db, "100", 10)
	variantB := seedVariant(t, env.db, "100", 10)

	order, _, err := env.orders.Create(context.Background(), customer.ID, CreateOrderRequest{
		DeliveryAddressID: address.ID,
		PaymentMethod:     models.PaymentCOD,
		Items: []CreateOrderItemRequest{
			{ProductVariantID: variantA.ID, Quantity: 1},
			{ProductVariantID: variantB.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	for _, item := range order.Items {
		advanceItem(t, env, item.ID, models.ItemDelivered)
	}

	req, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), order.Items[0].ID, "defective", "customer@upi")
	if err != nil {
		t.Fatalf("create return: %v", err)
	}

	// Line 100 plus half of the 40 delivery charge.
	if !req.RefundAmount.Equal(mustDecimal(t, "120")) {
		t.Fatalf("refund amount = %s, want 120", req.RefundAmount)
	}
}

func TestCreateReturnPreconditions(t *testing.T) {
	env := newTestEnv(t)
	customer, order := deliveredCODOrder(t, env)
	item := order.Items[0]

	// COD without a payout UPI is rejected.
	_, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "defective", "")
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError for missing upi", err)
	}

	// An undelivered item cannot enter the workflow.
	variant := seedVariant(t, env.db, "100", 10)
	fresh := placeOrder(t, env, customer, variant, 1, models.PaymentCOD, "")
	_, _, err = env.returns.CreateReturn(context.Background(), actorFor(customer), fresh.Items[0].ID, "defective", "customer@upi")
	var transitionErr *models.InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want InvalidTransitionError for undelivered item", err)
	}

	// Outside the variant's window the request is rejected.
	stale := time.Now().AddDate(0, 0, -30)
	if err := env.db.Model(&models.OrderItem{}).
		Where("id = ?", item.ID).
		Update("delivered_at", stale).Error; err != nil {
		t.Fatalf("age item: %v", err)
	}
	_, _, err = env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "defective", "customer@upi")
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError for closed window", err)
	}
}

func TestReturnAndReplacementMutuallyExclusive(t *testing.T) {
	env := newTestEnv(t)
	customer, order := deliveredCODOrder(t, env)
	item := order.Items[0]

	req, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "defective", "customer@upi")
	if err != nil {
		t.Fatalf("create return: %v", err)
	}

	_, _, err = env.returns.CreateReplacement(context.Background(), actorFor(customer), item.ID, "want a new one")
	var conflictErr *models.ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflictErr.ExistingID != req.ID {
		t.Fatalf("conflict existing id = %s, want %s", conflictErr.ExistingID, req.ID)
	}

	// A second return is blocked too.
	_, _, err = env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "again", "customer@upi")
	if !errors.As(err, &conflictErr) {
		t.Fatalf("err = %v, want ConflictError for duplicate return", err)
	}
}

func TestReturnEndToEndCOD(t *testing.T) {
	env := newTestEnv(t)
	customer, order := deliveredCODOrder(t, env)
	item := order.Items[0]

	req, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "defective", "customer@upi")
	if err != nil {
		t.Fatalf("create return: %v", err)
	}

	// Agent regenerates the pickup code at the doorstep and collects.
	agentUser := seedUser(t, env.db, models.RoleDelivery)
	seedDeliveryMan(t, env.db, agentUser.ID)
	_, code, err := env.otps.Generate(context.Background(), item.ID, models.EventReturnPickup)
	if err != nil {
		t.Fatalf("regenerate pickup code: %v", err)
	}
	collected, err := env.returns.CollectReturnPickup(context.Background(), actorFor(agentUser), req.ID, code)
	if err != nil {
		t.Fatalf("collect pickup: %v", err)
	}
	if collected.PickupStatus != models.PickupCollected || collected.PickedUpAt == nil {
		t.Fatalf("pickup state = %s, want collected", collected.PickupStatus)
	}

	// Warehouse approves; the unit goes back into sellable stock.
	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))
	var before models.ProductVariant
	env.db.First(&before, "id = ?", *item.ProductVariantID)
	inspected, err := env.returns.InspectReturn(context.Background(), warehouse, req.ID, models.DecisionApproved, "good condition")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if inspected.Status != models.RequestApproved {
		t.Fatalf("status = %s, want approved", inspected.Status)
	}
	var after models.ProductVariant
	env.db.First(&after, "id = ?", *item.ProductVariantID)
	if after.Stock != before.Stock+1 {
		t.Fatalf("stock = %d, want %d after restock", after.Stock, before.Stock+1)
	}

	// Admin approves; COD refunds wait for manual confirmation.
	admin := actorFor(seedUser(t, env.db, models.RoleAdmin))
	resolved, _, err := env.returns.ResolveReturn(context.Background(), admin, req.ID, models.DecisionApproved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.RefundStatus != models.RefundPending || resolved.RefundFinalized {
		t.Fatalf("refund state = %s/%v, want pending/unfinalized", resolved.RefundStatus, resolved.RefundFinalized)
	}

	if _, err := env.refunds.ConfirmReturnRefund(context.Background(), req.ID, admin); err != nil {
		t.Fatalf("confirm refund: %v", err)
	}

	var final models.ReturnRequest
	env.db.First(&final, "id = ?", req.ID)
	if final.Status != models.RequestRefunded || !final.RefundFinalized {
		t.Fatalf("final state = %s/%v, want refunded/finalized", final.Status, final.RefundFinalized)
	}

	var finalItem models.OrderItem
	env.db.First(&finalItem, "id = ?", item.ID)
	if finalItem.Status != models.ItemRefunded {
		t.Fatalf("item status = %s, want refunded", finalItem.Status)
	}
	finalOrder := reloadOrder(t, env.db, order.ID)
	if !finalOrder.IsRefunded {
		t.Fatal("order not flagged refunded")
	}
}

func TestReturnEndToEndOnline(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "600", 10) // free delivery
	order := placeOrder(t, env, customer, variant, 1, models.PaymentOnline, "")

	if _, err := env.orders.InitiatePayment(context.Background(), customer.ID, order.ID); err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	if _, _, err := env.orders.VerifyPayment(context.Background(), customer.ID, order.ID, "pay_1", "valid-signature"); err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	advanceItem(t, env, order.Items[0].ID, models.ItemDelivered)
	item := reloadOrder(t, env.db, order.ID).Items[0]

	req, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "defective", "")
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if !req.RefundAmount.Equal(mustDecimal(t, "600")) {
		t.Fatalf("refund amount = %s, want 600 with free delivery", req.RefundAmount)
	}

	agentUser := seedUser(t, env.db, models.RoleDelivery)
	seedDeliveryMan(t, env.db, agentUser.ID)
	_, code, err := env.otps.Generate(context.Background(), item.ID, models.EventReturnPickup)
	if err != nil {
		t.Fatalf("regenerate pickup code: %v", err)
	}
	if _, err := env.returns.CollectReturnPickup(context.Background(), actorFor(agentUser), req.ID, code); err != nil {
		t.Fatalf("collect pickup: %v", err)
	}

	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))
	if _, err := env.returns.InspectReturn(context.Background(), warehouse, req.ID, models.DecisionApproved, ""); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	admin := actorFor(seedUser(t, env.db, models.RoleAdmin))
	resolved, _, err := env.returns.ResolveReturn(context.Background(), admin, req.ID, models.DecisionApproved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_ = resolved

	// Online rail confirmed immediately by the gateway.
	var final models.ReturnRequest
	env.db.First(&final, "id = ?", req.ID)
	if final.Status != models.RequestRefunded || !final.RefundFinalized || final.RefundStatus != models.RefundProcessed {
		t.Fatalf("final state = %s/%s/%v", final.Status, final.RefundStatus, final.RefundFinalized)
	}
	if env.gateway.refundCalls != 1 {
		t.Fatalf("gateway refund calls = %d, want 1", env.gateway.refundCalls)
	}

	// A second resolution attempt cannot double-refund.
	_, _, err = env.returns.ResolveReturn(context.Background(), admin, req.ID, models.DecisionApproved)
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError on re-resolution", err)
	}
	if env.gateway.refundCalls != 1 {
		t.Fatalf("gateway refund calls after retry = %d, want 1", env.gateway.refundCalls)
	}
}

func TestResolveReturnRetriesAfterGatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	customer := seedUser(t, env.db, models.RoleCustomer)
	variant := seedVariant(t, env.db, "600", 10)
	order := placeOrder(t, env, customer, variant, 1, models.PaymentOnline, "")

	if _, err := env.orders.InitiatePayment(context.Background(), customer.ID, order.ID); err != nil {
		t.Fatalf("initiate payment: %v", err)
	}
	if _, _, err := env.orders.VerifyPayment(context.Background(), customer.ID, order.ID, "pay_1", "valid-signature"); err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	advanceItem(t, env, order.Items[0].ID, models.ItemDelivered)
	item := reloadOrder(t, env.db, order.ID).Items[0]

	req, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "defective", "")
	if err != nil {
		t.Fatalf("create return: %v", err)
	}

	agentUser := seedUser(t, env.db, models.RoleDelivery)
	seedDeliveryMan(t, env.db, agentUser.ID)
	_, code, _ := env.otps.Generate(context.Background(), item.ID, models.EventReturnPickup)
	if _, err := env.returns.CollectReturnPickup(context.Background(), actorFor(agentUser), req.ID, code); err != nil {
		t.Fatalf("collect pickup: %v", err)
	}
	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))
	if _, err := env.returns.InspectReturn(context.Background(), warehouse, req.ID, models.DecisionApproved, ""); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	// The gateway is down when the admin first approves: the decision is
	// recorded but no refund exists yet.
	env.gateway.refundErr = errors.New("gateway down")
	admin := actorFor(seedUser(t, env.db, models.RoleAdmin))
	stuck, _, err := env.returns.ResolveReturn(context.Background(), admin, req.ID, models.DecisionApproved)
	if err == nil {
		t.Fatal("resolve succeeded with the gateway down")
	}
	if stuck == nil {
		t.Fatal("failed resolve did not return the recorded request")
	}
	var after models.ReturnRequest
	env.db.First(&after, "id = ?", req.ID)
	if after.AdminDecision != models.DecisionApproved || after.RefundID != "" || after.RefundFinalized {
		t.Fatalf("post-failure state = %s/%q/%v, want approved with no refund", after.AdminDecision, after.RefundID, after.RefundFinalized)
	}

	// Re-approving once the gateway recovers retries the refund.
	env.gateway.refundErr = nil
	if _, _, err := env.returns.ResolveReturn(context.Background(), admin, req.ID, models.DecisionApproved); err != nil {
		t.Fatalf("retry resolve: %v", err)
	}

	var final models.ReturnRequest
	env.db.First(&final, "id = ?", req.ID)
	if final.Status != models.RequestRefunded || !final.RefundFinalized {
		t.Fatalf("final state = %s/%v, want refunded/finalized", final.Status, final.RefundFinalized)
	}
	if env.gateway.refundCalls != 2 {
		t.Fatalf("gateway refund calls = %d, want failed attempt plus retry", env.gateway.refundCalls)
	}

	// With the refund settled the resolution is final again.
	_, _, err = env.returns.ResolveReturn(context.Background(), admin, req.ID, models.DecisionApproved)
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError after settlement", err)
	}
	if env.gateway.refundCalls != 2 {
		t.Fatalf("gateway refund calls after settlement = %d, want 2", env.gateway.refundCalls)
	}
}

func TestRejectedInspectionIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	customer, order := deliveredCODOrder(t, env)
	item := order.Items[0]

	req, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "defective", "customer@upi")
	if err != nil {
		t.Fatalf("create return: %v", err)
	}

	agentUser := seedUser(t, env.db, models.RoleDelivery)
	seedDeliveryMan(t, env.db, agentUser.ID)
	_, code, _ := env.otps.Generate(context.Background(), item.ID, models.EventReturnPickup)
	if _, err := env.returns.CollectReturnPickup(context.Background(), actorFor(agentUser), req.ID, code); err != nil {
		t.Fatalf("collect pickup: %v", err)
	}

	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))
	rejected, err := env.returns.InspectReturn(context.Background(), warehouse, req.ID, models.DecisionRejected, "used item")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if rejected.Status != models.RequestRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}

	admin := actorFor(seedUser(t, env.db, models.RoleAdmin))
	_, _, err = env.returns.ResolveReturn(context.Background(), admin, req.ID, models.DecisionApproved)
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError resolving rejected request", err)
	}

	// A rejected request no longer blocks a fresh one.
	if _, _, err := env.returns.CreateReturn(context.Background(), actorFor(customer), item.ID, "retry", "customer@upi"); err != nil {
		t.Fatalf("new return after rejection: %v", err)
	}
}

func TestReplacementEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	customer, order := deliveredCODOrder(t, env)
	item := order.Items[0]

	req, _, err := env.returns.CreateReplacement(context.Background(), actorFor(customer), item.ID, "wrong size")
	if err != nil {
		t.Fatalf("create replacement: %v", err)
	}

	agentUser := seedUser(t, env.db, models.RoleDelivery)
	seedDeliveryMan(t, env.db, agentUser.ID)
	_, code, _ := env.otps.Generate(context.Background(), item.ID, models.EventReturnPickup)
	collected, err := env.returns.CollectReplacementPickup(context.Background(), actorFor(agentUser), req.ID, code)
	if err != nil {
		t.Fatalf("collect pickup: %v", err)
	}
	if collected.Status != models.RequestShipped {
		t.Fatalf("status = %s, want shipped after collection", collected.Status)
	}

	warehouse := actorFor(seedUser(t, env.db, models.RoleWarehouse))
	if _, err := env.returns.InspectReplacement(context.Background(), warehouse, req.ID, models.DecisionApproved, ""); err != nil {
		t.Fatalf("inspect: %v", err)
	}

	admin := actorFor(seedUser(t, env.db, models.RoleAdmin))
	resolved, _, err := env.returns.ResolveReplacement(context.Background(), admin, req.ID, models.DecisionApproved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.RequestCompleted || resolved.NewOrderID == nil {
		t.Fatalf("resolved state = %s, new order = %v", resolved.Status, resolved.NewOrderID)
	}

	// The mirror order is zero-cost, already paid and back at the start of
	// the pipeline.
	mirror := reloadOrder(t, env.db, *resolved.NewOrderID)
	if !mirror.Total.IsZero() || !mirror.IsPaid {
		t.Fatalf("mirror order total = %s paid = %v, want zero-cost paid", mirror.Total, mirror.IsPaid)
	}
	if len(mirror.Items) != 1 || mirror.Items[0].Status != models.ItemPending {
		t.Fatalf("mirror items = %+v, want one pending item", mirror.Items)
	}
	if mirror.UserID != customer.ID {
		t.Fatal("mirror order not owned by the original customer")
	}

	var finalItem models.OrderItem
	env.db.First(&finalItem, "id = ?", item.ID)
	if finalItem.Status != models.ItemReplaced {
		t.Fatalf("item status = %s, want replaced", finalItem.Status)
	}

	// Re-resolution cannot create a second mirror order.
	_, _, err = env.returns.ResolveReplacement(context.Background(), admin, req.ID, models.DecisionApproved)
	var validationErr *models.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError on re-resolution", err)
	}
	var orderCount int64
	env.db.Model(&models.Order{}).Where("user_id = ?", customer.ID).Count(&orderCount)
	if orderCount != 2 {
		t.Fatalf("order count = %d, want original plus one mirror", orderCount)
	}
}
