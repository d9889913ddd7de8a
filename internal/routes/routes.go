package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/fulfillment/internal/config"
	"github.com/example/fulfillment/internal/handlers"
	"github.com/example/fulfillment/internal/middleware"
	"github.com/example/fulfillment/internal/models"
	"github.com/example/fulfillment/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)
	gateway := services.NewRazorpayService(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayBaseURL)

	notifier := services.NewNotificationService(db, telegram)
	inventory := services.NewInventoryService(db)
	fulfillment := services.NewFulfillmentService(db)
	otps := services.NewOTPService(db, cfg.OTPTTL, notifier)
	commission := services.NewCommissionService(db, cfg.WithdrawalThreshold)
	refunds := services.NewRefundService(db, gateway, fulfillment)
	orders := services.NewOrderService(db, inventory, fulfillment, gateway, commission, refunds,
		cfg.FreeDeliveryThreshold, cfg.DeliveryCharge)
	returns := services.NewReturnsService(db, fulfillment, inventory, otps, refunds, orders)
	delivery := services.NewDeliveryService(db, fulfillment, otps, orders)

	authHandler := handlers.NewAuthHandler(db, cfg)
	orderHandler := handlers.NewOrderHandler(orders, notifier)
	warehouseHandler := handlers.NewWarehouseHandler(fulfillment, returns, notifier)
	deliveryHandler := handlers.NewDeliveryHandler(delivery, returns, notifier)
	returnsHandler := handlers.NewReturnsHandler(returns, notifier)
	adminHandler := handlers.NewAdminHandler(returns, refunds, notifier)

	// Auth routes stay outside the authenticated group.
	auth := app.Group("/api/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	api := app.Group("/api", middleware.AuthMiddleware(cfg))

	// Customer order surface
	api.Post("/orders", orderHandler.CreateOrder)
	api.Get("/orders", orderHandler.ListOrders)
	api.Get("/orders/:id", orderHandler.GetOrder)
	api.Post("/orders/:id/payment", orderHandler.InitiatePayment)
	api.Post("/orders/:id/payment/verify", orderHandler.VerifyPayment)
	api.Post("/orders/:id/cancel", orderHandler.CancelOrder)

	// Post-sale requests
	api.Post("/returns", returnsHandler.CreateReturn)
	api.Get("/returns", returnsHandler.ListReturns)
	api.Get("/returns/:id", returnsHandler.GetReturn)
	api.Post("/replacements", returnsHandler.CreateReplacement)
	api.Get("/replacements", returnsHandler.ListReplacements)
	api.Get("/replacements/:id", returnsHandler.GetReplacement)

	// Warehouse pipeline
	warehouse := api.Group("/warehouse", middleware.RequireRoles(models.RoleWarehouse, models.RoleAdmin))
	warehouse.Post("/items/:id/pick", warehouseHandler.PickItem)
	warehouse.Post("/items/:id/pack", warehouseHandler.PackItem)
	warehouse.Post("/items/:id/ship", warehouseHandler.ShipItem)
	warehouse.Post("/returns/:id/inspect", warehouseHandler.InspectReturn)
	warehouse.Post("/replacements/:id/inspect", warehouseHandler.InspectReplacement)

	// Delivery agent surface
	delivr := api.Group("/delivery", middleware.RequireRoles(models.RoleDelivery))
	delivr.Get("/orders", deliveryHandler.ListAssigned)
	delivr.Post("/items/:id/otp", deliveryHandler.RequestHandoffOTP)
	delivr.Post("/items/:id/deliver", deliveryHandler.CompleteDelivery)
	delivr.Post("/returns/:id/collect", deliveryHandler.CollectReturnPickup)
	delivr.Post("/replacements/:id/collect", deliveryHandler.CollectReplacementPickup)

	// Staff failure branch: delivery agents and admins
	staff := api.Group("/items", middleware.RequireRoles(models.RoleDelivery, models.RoleAdmin))
	staff.Post("/:id/fail", warehouseHandler.FailItem)

	// Admin surface
	admin := api.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.Post("/assignments", deliveryHandler.AssignOrders)
	admin.Post("/returns/:id/resolve", adminHandler.ResolveReturn)
	admin.Post("/replacements/:id/resolve", adminHandler.ResolveReplacement)
	admin.Get("/orders/:id/refund", adminHandler.CheckOrderRefund)
	admin.Post("/orders/:id/refund/confirm", adminHandler.ConfirmOrderRefund)
	admin.Get("/returns/:id/refund", adminHandler.CheckReturnRefund)
	admin.Post("/returns/:id/refund/confirm", adminHandler.ConfirmReturnRefund)
}
