package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/fulfillment/internal/middleware"
	"github.com/example/fulfillment/internal/services"
	"github.com/example/fulfillment/internal/utils"
)

// OrderHandler manages the customer-facing order endpoints.
type OrderHandler struct {
	orders   *services.OrderService
	notifier *services.NotificationService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService, notifier *services.NotificationService) *OrderHandler {
	return &OrderHandler{orders: orders, notifier: notifier}
}

type orderLineRequest struct {
	ProductVariantID uuid.UUID `json:"product_variant_id" validate:"required"`
	Quantity         int       `json:"quantity" validate:"required,gt=0"`
}

type createOrderRequest struct {
	DeliveryAddressID uuid.UUID          `json:"delivery_address_id" validate:"required"`
	PaymentMethod     string             `json:"payment_method" validate:"required,oneof=cod online"`
	ReferralCode      string             `json:"referral_code"`
	Items             []orderLineRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateOrder places an order for the authenticated customer.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req createOrderRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	svcReq := services.CreateOrderRequest{
		DeliveryAddressID: req.DeliveryAddressID,
		PaymentMethod:     req.PaymentMethod,
		ReferralCode:      req.ReferralCode,
	}
	for _, line := range req.Items {
		svcReq.Items = append(svcReq.Items, services.CreateOrderItemRequest{
			ProductVariantID: line.ProductVariantID,
			Quantity:         line.Quantity,
		})
	}

	order, events, err := h.orders.Create(c.Context(), actor.UserID, svcReq)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)

	return created(c, order)
}

// ListOrders returns the caller's orders, optionally filtered by status.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	actor, ok := middleware.CurrentActor(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	p := utils.ParsePagination(c)
	orders, total, err := h.orders.ListForUser(c.Context(), actor.UserID, c.Query("status"), p.Limit, p.Offset)
	if err != nil {
		return domainError(c, err)
	}
	return paged(c, orders, total)
}

// GetOrder returns one order; customers only see their own.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	order, err := h.orders.Get(c.Context(), id, actor)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, order)
}

// InitiatePayment opens a gateway charge intent for an online order.
func (h *OrderHandler) InitiatePayment(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	intent, err := h.orders.InitiatePayment(c.Context(), actor.UserID, id)
	if err != nil {
		return domainError(c, err)
	}
	return ok(c, intent)
}

type verifyPaymentRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// VerifyPayment finalizes an online payment from the checkout callback.
func (h *OrderHandler) VerifyPayment(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req verifyPaymentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	order, events, err := h.orders.VerifyPayment(c.Context(), actor.UserID, id, req.PaymentID, req.Signature)
	if err != nil {
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return ok(c, order)
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// CancelOrder cancels an unshipped order. A paid order gets its refund
// initiated after the cancellation commits; a gateway failure is reported but
// the order stays cancelled and the refund retryable.
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	actor, okAuth := middleware.CurrentActor(c)
	if !okAuth {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req cancelOrderRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	order, events, err := h.orders.Cancel(c.Context(), id, actor, req.Reason)
	if err != nil {
		dispatch(c.Context(), h.notifier, events)
		if order != nil {
			// Cancelled locally, refund initiation failed.
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"success": true,
				"data":    order,
				"warning": "order cancelled, refund initiation failed and can be retried",
			})
		}
		return domainError(c, err)
	}
	dispatch(c.Context(), h.notifier, events)
	return ok(c, order)
}
