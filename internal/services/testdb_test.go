package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/fulfillment/internal/database"
	"github.com/example/fulfillment/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeGateway is an in-memory PaymentGateway. Zero value refunds succeed as
// processed.
type fakeGateway struct {
	refundStatus string
	refundErr    error
	fetchStatus  string
	refundCalls  int
}

func (f *fakeGateway) CreateChargeIntent(_ context.Context, amount decimal.Decimal, currency, receipt string) (*ChargeIntent, error) {
	return &ChargeIntent{ID: "order_gw_" + receipt, Amount: amount, Currency: currency, Receipt: receipt}, nil
}

func (f *fakeGateway) VerifySignature(_, _, signature string) bool {
	return signature == "valid-signature"
}

func (f *fakeGateway) Refund(_ context.Context, _ string, amount decimal.Decimal) (*GatewayRefund, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	status := f.refundStatus
	if status == "" {
		status = GatewayRefundProcessed
	}
	return &GatewayRefund{ID: fmt.Sprintf("rfnd_%d", f.refundCalls), Status: status, Amount: amount}, nil
}

func (f *fakeGateway) FetchRefund(_ context.Context, refundID string) (*GatewayRefund, error) {
	status := f.fetchStatus
	if status == "" {
		status = GatewayRefundProcessed
	}
	return &GatewayRefund{ID: refundID, Status: status}, nil
}

// fakeChannel records outbound notifications.
type fakeChannel struct {
	sent    []string
	sendErr error
}

func (f *fakeChannel) Send(_ context.Context, _, _, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

type testEnv struct {
	db          *gorm.DB
	gateway     *fakeGateway
	channel     *fakeChannel
	notifier    *NotificationService
	inventory   *InventoryService
	fulfillment *FulfillmentService
	otps        *OTPService
	commission  *CommissionService
	refunds     *RefundService
	orders      *OrderService
	returns     *ReturnsService
	delivery    *DeliveryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	gateway := &fakeGateway{}
	channel := &fakeChannel{}

	notifier := NewNotificationService(db, channel)
	inventory := NewInventoryService(db)
	fulfillment := NewFulfillmentService(db)
	otps := NewOTPService(db, 5*time.Minute, notifier)
	commission := NewCommissionService(db, decimal.NewFromInt(1000))
	refunds := NewRefundService(db, gateway, fulfillment)
	orders := NewOrderService(db, inventory, fulfillment, gateway, commission, refunds,
		decimal.NewFromInt(500), decimal.NewFromInt(40))
	returns := NewReturnsService(db, fulfillment, inventory, otps, refunds, orders)
	delivery := NewDeliveryService(db, fulfillment, otps, orders)

	return &testEnv{
		db:          db,
		gateway:     gateway,
		channel:     channel,
		notifier:    notifier,
		inventory:   inventory,
		fulfillment: fulfillment,
		otps:        otps,
		commission:  commission,
		refunds:     refunds,
		orders:      orders,
		returns:     returns,
		delivery:    delivery,
	}
}

func seedUser(t *testing.T, db *gorm.DB, role string) *models.User {
	t.Helper()
	user := models.User{
		Email:    fmt.Sprintf("%s-%s@example.com", role, uuid.NewString()[:8]),
		Role:     role,
		IsActive: true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &user
}

func seedAddress(t *testing.T, db *gorm.DB, userID uuid.UUID) *models.UserAddress {
	t.Helper()
	address := models.UserAddress{
		UserID:      userID,
		AddressLine: "42 Test Street",
		City:        "Testville",
		PostalCode:  "560001",
	}
	if err := db.Create(&address).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return &address
}

func seedVariant(t *testing.T, db *gorm.DB, price string, stock int) *models.ProductVariant {
	t.Helper()
	product := models.Product{Name: "Widget", IsActive: true}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	variant := models.ProductVariant{
		ProductID:             product.ID,
		SKU:                   "SKU-" + uuid.NewString()[:8],
		Label:                 "Standard",
		Price:                 mustDecimal(t, price),
		Stock:                 stock,
		CommissionRate:        mustDecimal(t, "10"),
		AllowReturn:           true,
		ReturnWindowDays:      7,
		AllowReplacement:      true,
		ReplacementWindowDays: 7,
	}
	if err := db.Create(&variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return &variant
}

func seedDeliveryMan(t *testing.T, db *gorm.DB, userID uuid.UUID) *models.DeliveryMan {
	t.Helper()
	dm := models.DeliveryMan{UserID: userID, IsActive: true}
	if err := db.Create(&dm).Error; err != nil {
		t.Fatalf("seed delivery man: %v", err)
	}
	return &dm
}

func seedPromoter(t *testing.T, db *gorm.DB, userID uuid.UUID, status string) *models.Promoter {
	t.Helper()
	promoter := models.Promoter{
		UserID:       userID,
		Status:       status,
		ReferralCode: "REF-" + uuid.NewString()[:8],
	}
	if err := db.Create(&promoter).Error; err != nil {
		t.Fatalf("seed promoter: %v", err)
	}
	return &promoter
}

func actorFor(user *models.User) models.Actor {
	return models.Actor{UserID: user.ID, Role: user.Role, Email: user.Email}
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("decimal %q: %v", raw, err)
	}
	return value
}

// placeOrder runs the real checkout path for a single line.
func placeOrder(t *testing.T, env *testEnv, user *models.User, variant *models.ProductVariant, quantity int, paymentMethod, referralCode string) *models.Order {
	t.Helper()
	address := seedAddress(t, env.db, user.ID)
	order, _, err := env.orders.Create(context.Background(), user.ID, CreateOrderRequest{
		DeliveryAddressID: address.ID,
		PaymentMethod:     paymentMethod,
		ReferralCode:      referralCode,
		Items: []CreateOrderItemRequest{
			{ProductVariantID: variant.ID, Quantity: quantity},
		},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return order
}

// advanceItem walks an item along the pipeline up to the target status using
// appropriately privileged actors.
func advanceItem(t *testing.T, env *testEnv, itemID uuid.UUID, target string) {
	t.Helper()
	warehouse := models.Actor{UserID: uuid.New(), Role: models.RoleWarehouse}
	steps := []struct {
		from, to string
		actor    models.Actor
	}{
		{models.ItemPending, models.ItemPicked, warehouse},
		{models.ItemPicked, models.ItemPacked, warehouse},
		{models.ItemPacked, models.ItemShipped, warehouse},
		{models.ItemShipped, models.ItemOutForDelivery, models.SystemActor},
		{models.ItemOutForDelivery, models.ItemDelivered, models.SystemActor},
	}
	var item models.OrderItem
	if err := env.db.First(&item, "id = ?", itemID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	reached := item.Status == models.ItemPending
	for _, step := range steps {
		if !reached {
			if step.from == item.Status {
				reached = true
			} else {
				continue
			}
		}
		if _, _, err := env.fulfillment.Transition(context.Background(), itemID, step.from, step.to, step.actor, ""); err != nil {
			t.Fatalf("advance %s -> %s: %v", step.from, step.to, err)
		}
		if step.to == target {
			return
		}
	}
	if target != models.ItemDelivered {
		t.Fatalf("unknown target status %s", target)
	}
}

func reloadOrder(t *testing.T, db *gorm.DB, orderID uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	if err := db.Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return &order
}
